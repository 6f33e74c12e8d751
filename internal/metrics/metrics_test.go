package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Settlements.Inc()
	m.DuelTransitions.WithLabelValues("active").Add(2)
	m.WatchedAddresses.Set(7)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Settlements))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.DuelTransitions.WithLabelValues("active")))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.WatchedAddresses))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
