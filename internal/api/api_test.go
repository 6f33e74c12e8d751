package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"duel-settlement-go/internal/admin"
	"duel-settlement-go/internal/database"
	"duel-settlement-go/internal/duel"
	"duel-settlement-go/internal/listener"
	"duel-settlement-go/internal/metrics"
	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/payout"
	"duel-settlement-go/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret"

type fakeBots struct{}

func (fakeBots) KnownRegion(region string) bool       { return region == "eu" }
func (fakeBots) IsAlive(context.Context, string) bool { return true }
func (fakeBots) Authenticate(region, secret string) bool {
	return region == "eu" && secret == "eu-secret"
}
func (fakeBots) Heartbeat(context.Context, string, string) error { return nil }

type fakeSender struct{}

func (fakeSender) Send(_ context.Context, request models.PayoutRequest) (*models.SendResult, error) {
	return &models.SendResult{TxHash: "activity-1", IdempotencyKey: request.Id}, nil
}

type fakeIssuer struct{}

func (fakeIssuer) IssueAddress(_ context.Context, tokenType string) (*models.DepositAddress, error) {
	return &models.DepositAddress{Id: "addr-1", Address: "0xissued0000000000000000000000000000000001", TokenType: tokenType}, nil
}

type testServer struct {
	db     *database.Service
	server *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewService(ctx, models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "api.db"),
		MaxOpenConns: 4,
		PingTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	for _, id := range []string{"A", "B"} {
		_, err := db.CreateAccount(ctx, id, id, id+"@example.com")
		require.NoError(t, err)
		_, err = db.AdjustBalance(ctx, store.AdjustParams{
			AccountId: id, Delta: 100, Type: models.EntryAdminAdjustment, IdempotencyKey: "seed:" + id,
		})
		require.NoError(t, err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	duels := duel.NewService(duel.ServiceConfig{Store: db, Bots: fakeBots{}, Metrics: m, MinStake: 1})
	payouts := payout.NewService(payout.ServiceConfig{
		Store:   db,
		Sender:  fakeSender{},
		Metrics: m,
		Tokens:  []models.TokenConfig{{Type: "USDC", Symbol: "USDC", Network: "base", GemsPerUnit: "100"}},
	})
	watcher := listener.NewDepositListener(listener.DepositListenerConfig{Store: db, Metrics: m})
	svc := NewService(ServiceConfig{
		Store:     db,
		Duels:     duels,
		Payouts:   payouts,
		Admin:     admin.NewService(admin.ServiceConfig{Store: db, Duels: duels, Payouts: payouts, Addresses: watcher}),
		Bots:      fakeBots{},
		Issuer:    fakeIssuer{},
		Addresses: watcher,
		Gatherer:  reg,
		JWTSecret: testSecret,
	})

	server := httptest.NewServer(svc.Router())
	t.Cleanup(server.Close)
	return &testServer{db: db, server: server}
}

func token(t *testing.T, subject, role string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

type call struct {
	method  string
	path    string
	body    any
	headers map[string]string
}

func (s *testServer) do(t *testing.T, c call, out any) int {
	t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(c.body))
	}
	req, err := http.NewRequest(c.method, s.server.URL+c.path, &body)
	require.NoError(t, err)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := s.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func as(t *testing.T, subject string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token(t, subject, "user")}
}

func asAdmin(t *testing.T) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token(t, "root", "admin")}
}

var botHeaders = map[string]string{BotRegionHeader: "eu", BotSecretHeader: "eu-secret"}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, call{method: "GET", path: "/v1/me/balance"}, nil))
	assert.Equal(t, http.StatusUnauthorized, s.do(t, call{
		method: "GET", path: "/v1/me/balance", headers: map[string]string{"Authorization": "Token abc"},
	}, nil))

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "A"}).SignedString([]byte("other"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, call{
		method: "GET", path: "/v1/me/balance", headers: map[string]string{"Authorization": "Bearer " + forged},
	}, nil))

	var view models.BalanceView
	require.Equal(t, http.StatusOK, s.do(t, call{method: "GET", path: "/v1/me/balance", headers: as(t, "A")}, &view))
	assert.Equal(t, "A", view.AccountId)
	assert.Equal(t, int64(100), view.Balance)

	assert.Equal(t, http.StatusForbidden, s.do(t, call{method: "GET", path: "/v1/admin/actions", headers: as(t, "A")}, nil))
	assert.Equal(t, http.StatusOK, s.do(t, call{method: "GET", path: "/v1/admin/actions", headers: asAdmin(t)}, nil))
}

func TestDuelOverHTTP(t *testing.T) {
	s := newTestServer(t)

	var created models.Duel
	require.Equal(t, http.StatusCreated, s.do(t, call{
		method: "POST", path: "/v1/duels", headers: as(t, "A"),
		body: models.CreateDuelRequest{StakeAmount: 40, Region: "eu"},
	}, &created))
	assert.Equal(t, models.DuelPendingChallenge, created.Status)

	var open []models.Duel
	require.Equal(t, http.StatusOK, s.do(t, call{method: "GET", path: "/v1/duels/open", headers: as(t, "B")}, &open))
	require.Len(t, open, 1)

	var accepted models.Duel
	require.Equal(t, http.StatusOK, s.do(t, call{
		method: "POST", path: "/v1/duels/" + created.Id + "/accept", headers: as(t, "B"),
	}, &accepted))
	assert.Equal(t, models.DuelActive, accepted.Status)

	report := models.BotResultRequest{DuelId: created.Id, WinnerId: "A"}
	assert.Equal(t, http.StatusUnauthorized, s.do(t, call{
		method: "POST", path: "/v1/bot/results", body: report,
		headers: map[string]string{BotRegionHeader: "eu", BotSecretHeader: "wrong"},
	}, nil))

	var settled models.Duel
	require.Equal(t, http.StatusOK, s.do(t, call{
		method: "POST", path: "/v1/bot/results", body: report, headers: botHeaders,
	}, &settled))
	assert.Equal(t, "A", settled.WinnerId)

	var errResp models.ErrorResponse
	assert.Equal(t, http.StatusConflict, s.do(t, call{
		method: "POST", path: "/v1/bot/results", body: report, headers: botHeaders,
	}, &errResp))
	assert.NotEmpty(t, errResp.Error)

	var view models.BalanceView
	require.Equal(t, http.StatusOK, s.do(t, call{method: "GET", path: "/v1/me/balance", headers: as(t, "A")}, &view))
	assert.Equal(t, int64(140), view.Balance)
	assert.Equal(t, int64(0), view.Reserved)

	var history []models.HistoryRecord
	require.Equal(t, http.StatusOK, s.do(t, call{method: "GET", path: "/v1/me/history?limit=10", headers: as(t, "B")}, &history))
	assert.NotEmpty(t, history)
}

func TestDuelErrorMapping(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"insufficient funds", models.CreateDuelRequest{StakeAmount: 500, Region: "eu"}, http.StatusPaymentRequired},
		{"unknown region", models.CreateDuelRequest{StakeAmount: 10, Region: "mars"}, http.StatusBadRequest},
		{"missing stake", map[string]any{"region": "eu"}, http.StatusBadRequest},
		{"unknown field", map[string]any{"stake_amount": 10, "region": "eu", "extra": true}, http.StatusBadRequest},
		{"self challenge", models.CreateDuelRequest{OpponentId: "A", StakeAmount: 10, Region: "eu"}, http.StatusForbidden},
		{"unknown opponent", models.CreateDuelRequest{OpponentId: "Z", StakeAmount: 10, Region: "eu"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, s.do(t, call{method: "POST", path: "/v1/duels", headers: as(t, "A"), body: tt.body}, nil))
		})
	}

	var errResp models.ErrorResponse
	require.Equal(t, http.StatusBadRequest, s.do(t, call{
		method: "POST", path: "/v1/duels", headers: as(t, "A"), body: map[string]any{"region": "eu"},
	}, &errResp))
	assert.Equal(t, "required", errResp.Details["StakeAmount"])

	assert.Equal(t, http.StatusNotFound, s.do(t, call{
		method: "POST", path: "/v1/duels/missing/accept", headers: as(t, "B"),
	}, nil))
}

func TestPayoutOverHTTP(t *testing.T) {
	s := newTestServer(t)

	var request models.PayoutRequest
	require.Equal(t, http.StatusCreated, s.do(t, call{
		method: "POST", path: "/v1/payouts", headers: as(t, "A"),
		body: models.CreatePayoutRequest{GemAmount: 30, DestinationAddress: "0x3333333333333333333333333333333333333333", TokenType: "usdc"},
	}, &request))
	assert.Equal(t, models.PayoutPending, request.Status)
	assert.Equal(t, "USDC", request.TokenType)

	assert.Equal(t, http.StatusForbidden, s.do(t, call{
		method: "POST", path: "/v1/payouts/" + request.Id + "/cancel", headers: as(t, "B"),
	}, nil))

	var pending []models.PayoutRequest
	require.Equal(t, http.StatusOK, s.do(t, call{method: "GET", path: "/v1/admin/payouts", headers: asAdmin(t)}, &pending))
	require.Len(t, pending, 1)

	var approved models.PayoutRequest
	require.Equal(t, http.StatusOK, s.do(t, call{
		method: "POST", path: "/v1/admin/payouts/" + request.Id + "/approve", headers: asAdmin(t),
	}, &approved))
	assert.Equal(t, models.PayoutCompleted, approved.Status)
	assert.Equal(t, "activity-1", approved.TxHash)

	assert.Equal(t, http.StatusConflict, s.do(t, call{
		method: "POST", path: "/v1/admin/payouts/" + request.Id + "/decline", headers: asAdmin(t),
		body: models.DeclinePayoutRequest{Reason: "too late"},
	}, nil))

	assert.Equal(t, http.StatusPaymentRequired, s.do(t, call{
		method: "POST", path: "/v1/payouts", headers: as(t, "A"),
		body: models.CreatePayoutRequest{GemAmount: 500, DestinationAddress: "0x3333333333333333333333333333333333333333", TokenType: "USDC"},
	}, nil))
}

func TestAddressesOverHTTP(t *testing.T) {
	s := newTestServer(t)

	var issued models.MonitoredAddress
	require.Equal(t, http.StatusCreated, s.do(t, call{
		method: "POST", path: "/v1/me/addresses", headers: as(t, "A"),
		body: models.IssueAddressRequest{TokenType: "USDC"},
	}, &issued))
	assert.Equal(t, "A", issued.OwnerId)
	assert.True(t, issued.Watched)

	var mine []models.MonitoredAddress
	require.Equal(t, http.StatusOK, s.do(t, call{method: "GET", path: "/v1/me/addresses", headers: as(t, "A")}, &mine))
	require.Len(t, mine, 1)

	orphan := "0xorphan000000000000000000000000000000000002"
	require.Equal(t, http.StatusCreated, s.do(t, call{
		method: "POST", path: "/v1/admin/addresses", headers: asAdmin(t),
		body: models.AddAddressRequest{Address: orphan},
	}, nil))
	assert.Equal(t, http.StatusOK, s.do(t, call{
		method: "POST", path: fmt.Sprintf("/v1/admin/addresses/%s/assign", orphan), headers: asAdmin(t),
		body: models.AssignAddressRequest{OwnerId: "B"},
	}, nil))
	assert.Equal(t, http.StatusConflict, s.do(t, call{
		method: "POST", path: fmt.Sprintf("/v1/admin/addresses/%s/assign", orphan), headers: asAdmin(t),
		body: models.AssignAddressRequest{OwnerId: "A"},
	}, nil))

	var actions []models.AdminAction
	require.Equal(t, http.StatusOK, s.do(t, call{method: "GET", path: "/v1/admin/actions", headers: asAdmin(t)}, &actions))
	assert.Len(t, actions, 2)
}

func TestAdminAdjustAndReconcile(t *testing.T) {
	s := newTestServer(t)

	var entry models.HistoryEntry
	require.Equal(t, http.StatusOK, s.do(t, call{
		method: "POST", path: "/v1/admin/accounts/B/adjust", headers: asAdmin(t),
		body: models.AdjustBalanceRequest{Delta: -25, Reason: "chargeback"},
	}, &entry))
	assert.Equal(t, int64(75), entry.BalanceAfter)

	assert.Equal(t, http.StatusPaymentRequired, s.do(t, call{
		method: "POST", path: "/v1/admin/accounts/B/adjust", headers: asAdmin(t),
		body: models.AdjustBalanceRequest{Delta: -1000, Reason: "too much"},
	}, nil))

	var mismatched []models.Reconciliation
	require.Equal(t, http.StatusOK, s.do(t, call{method: "POST", path: "/v1/admin/reconcile", headers: asAdmin(t)}, &mismatched))
	assert.Empty(t, mismatched)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(t, call{method: "GET", path: "/healthz"}, nil))

	require.Equal(t, http.StatusOK, s.do(t, call{
		method: "POST", path: "/v1/bot/heartbeat", headers: botHeaders,
		body: models.BotHeartbeatRequest{InstanceId: "bot-1"},
	}, nil))

	resp, err := s.server.Client().Get(s.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("wrap: %w", store.ErrInsufficientFunds), http.StatusPaymentRequired},
		{store.ErrInvalidTransition, http.StatusConflict},
		{store.ErrDuplicateEvent, http.StatusConflict},
		{store.ErrNotFound, http.StatusNotFound},
		{store.ErrNotParticipant, http.StatusForbidden},
		{store.ErrUnknownToken, http.StatusBadRequest},
		{fmt.Errorf("send: %w", store.ErrExternalService), http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}
