package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitbondlabs/bitbondd/internal/domain"
	"github.com/bitbondlabs/bitbondd/internal/market"
	"github.com/bitbondlabs/bitbondd/internal/nft"
	"github.com/bitbondlabs/bitbondd/internal/server/handler"
	"github.com/bitbondlabs/bitbondd/internal/service"
	"github.com/bitbondlabs/bitbondd/internal/store/memory"
	"github.com/bitbondlabs/bitbondd/internal/vault"
)

const (
	custody  = domain.Principal("0x00000000000000000000000000000000000c0571")
	escrow   = domain.Principal("0x000000000000000000000000000000000e5c4011")
	treasury = domain.Principal("0x000000000000000000000000000000000742ea51")
	alice    = domain.Principal("0xa11ce00000000000000000000000000000000001")
	bob      = domain.Principal("0xb0b0000000000000000000000000000000000002")
)

type testEnv struct {
	ts     *httptest.Server
	ledger *memory.Ledger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ledger := memory.NewLedger()
	ledger.SeedAsset(alice, 10_000)
	ledger.SeedAsset(custody, 1_000_000)
	ledger.SeedSettlement(bob, 5_000)

	registry := nft.NewRegistry(ledger, custody, "https://bonds.example/meta/", logger)
	v := vault.NewEngine(ledger, ledger, registry, vault.Config{
		Custody:      custody,
		BlocksPerDay: 144,
	}, nil, logger)
	m := market.NewEngine(ledger, registry, market.Config{
		Escrow:   escrow,
		Treasury: treasury,
	}, nil, logger)
	stats := service.NewStatsService(ledger, m, ledger, nil, logger)

	handlers := Handlers{
		Health: handler.NewHealthHandler(logger),
		Status: handler.NewStatusHandler("dev", time.Now(), ledger, logger),
		Bonds:  handler.NewBondHandler(v, ledger, stats, logger),
		NFT:    handler.NewNFTHandler(registry, ledger, logger),
		Market: handler.NewMarketHandler(m, ledger, stats, logger),
		Dev:    handler.NewDevHandler(ledger, ledger, logger),
	}
	srv := NewServer(Config{Port: 0, DevMode: true}, handlers, nil, nil, logger)

	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, ledger: ledger}
}

// do issues a request with an optional dev-mode caller header and decodes the
// JSON response body into a map.
func (e *testEnv) do(t *testing.T, method, path string, caller domain.Principal, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &buf)
	require.NoError(t, err)
	if !caller.Zero() {
		req.Header.Set("X-Caller", caller.String())
	}
	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func TestHealthAndStatus(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = env.do(t, http.MethodGet, "/api/status", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "dev", body["mode"])
}

func TestMutationRequiresCaller(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/api/bonds", "", map[string]any{
		"principal": 1000, "lock_period": 90,
	})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Contains(t, body["error"], "signature")
}

func TestBondLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	// Create.
	code, body := env.do(t, http.MethodPost, "/api/bonds", alice, map[string]any{
		"principal": 1000, "lock_period": 90,
	})
	require.Equal(t, http.StatusCreated, code)
	assert.EqualValues(t, 1, body["id"])
	assert.Equal(t, alice.String(), body["owner"])

	// Read back, plus the yield quote.
	code, body = env.do(t, http.MethodGet, "/api/bonds/1", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "active", body["status"])

	code, body = env.do(t, http.MethodGet, "/api/bonds/1/yield", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 19, body["yield"])
	assert.EqualValues(t, 1019, body["payout"])

	// Certificate reads.
	code, body = env.do(t, http.MethodGet, "/api/nft/1/owner", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, alice.String(), body["owner"])

	code, body = env.do(t, http.MethodGet, "/api/nft/999/owner", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Nil(t, body["owner"])

	// Too early to withdraw.
	code, body = env.do(t, http.MethodPost, "/api/bonds/1/withdraw", alice, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, body["error"], "not matured")

	// Advance past maturity and withdraw.
	code, _ = env.do(t, http.MethodPost, "/api/dev/advance", "", map[string]any{
		"blocks": 90 * 144,
	})
	require.Equal(t, http.StatusOK, code)

	code, body = env.do(t, http.MethodPost, "/api/bonds/1/withdraw", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1019, body["payout"])

	// A second withdraw hits the status check.
	code, _ = env.do(t, http.MethodPost, "/api/bonds/1/withdraw", alice, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMarketplaceOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodPost, "/api/bonds", alice, map[string]any{
		"principal": 1000, "lock_period": 90,
	})
	require.Equal(t, http.StatusCreated, code)

	// Non-holder cannot list.
	code, _ = env.do(t, http.MethodPost, "/api/listings", bob, map[string]any{
		"position_id": 1, "price": 1000,
	})
	assert.Equal(t, http.StatusForbidden, code)

	code, body := env.do(t, http.MethodPost, "/api/listings", alice, map[string]any{
		"position_id": 1, "price": 1000,
	})
	require.Equal(t, http.StatusCreated, code)
	assert.EqualValues(t, 1000, body["price"])

	// Escrow holds the certificate while listed.
	code, body = env.do(t, http.MethodGet, "/api/nft/1/owner", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, escrow.String(), body["owner"])

	// Seller cannot buy their own listing.
	code, _ = env.do(t, http.MethodPost, "/api/listings/1/buy", alice, nil)
	assert.Equal(t, http.StatusConflict, code)

	code, body = env.do(t, http.MethodPost, "/api/listings/1/buy", bob, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 20, body["fee"])

	code, body = env.do(t, http.MethodGet, "/api/nft/1/owner", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, bob.String(), body["owner"])

	// Listing is gone; stats reflect the sale.
	code, _ = env.do(t, http.MethodGet, "/api/listings/1", "", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = env.do(t, http.MethodGet, "/api/marketplace/stats", "", nil)
	require.Equal(t, http.StatusOK, code)
	marketStats, ok := body["market"].(map[string]any)
	require.True(t, ok, "stats payload: %v", body)
	assert.EqualValues(t, 1000, marketStats["total_volume"])
	assert.EqualValues(t, 20, marketStats["total_fees"])
}
