package listener

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"duel-settlement-go/internal/database"
	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/store"

	"github.com/stretchr/testify/require"
)

const testDepth = 12

func setupStore(t *testing.T) *database.Service {
	t.Helper()
	svc, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "listener.db"),
		MaxOpenConns: 4,
		PingTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func createAccount(t *testing.T, db store.Store, accountId string) {
	t.Helper()
	_, err := db.CreateAccount(context.Background(), accountId, accountId, accountId+"@example.com")
	require.NoError(t, err)
}

func balanceOf(t *testing.T, db store.Store, accountId string) int64 {
	t.Helper()
	account, err := db.GetAccount(context.Background(), accountId)
	require.NoError(t, err)
	return account.Balance
}

type recordingNotifier struct {
	mu     sync.Mutex
	hashes []string
}

func (n *recordingNotifier) Notify(txHash string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hashes = append(n.hashes, txHash)
}

func (n *recordingNotifier) notified() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.hashes...)
}

type fakeFeed struct {
	mu        sync.Mutex
	transfers []models.ObservedTransfer
	err       error
	calls     int
	lastAddrs []string
}

func (f *fakeFeed) Transfers(_ context.Context, addresses []string, _ time.Time) ([]models.ObservedTransfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastAddrs = addresses
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.ObservedTransfer(nil), f.transfers...), nil
}

// fakeSource answers from a per-hash table and can fail a set number of times first.
type fakeSource struct {
	mu       sync.Mutex
	statuses map[string]models.ChainStatus
	failures int
	calls    int
}

func newFakeSource() *fakeSource {
	return &fakeSource{statuses: make(map[string]models.ChainStatus)}
}

func (s *fakeSource) set(txHash string, status models.ChainStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[txHash] = status
}

func (s *fakeSource) Status(_ context.Context, deposit models.DepositTransaction) (models.ChainStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return models.ChainStatus{}, errors.New("source unavailable")
	}
	return s.statuses[deposit.TxHash], nil
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
