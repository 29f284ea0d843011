// ABOUTME: Tests for the HTTP server using httptest and the reference signer
// ABOUTME: Covers the end-to-end login, callback error mapping, polling, health and middleware

package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/cachet/internal/config"
	"github.com/2389/cachet/internal/lnurl"
	"github.com/2389/cachet/internal/signer"
	"github.com/2389/cachet/internal/store"
)

// testSecret is a 32-byte secret that meets MinSecretLength requirement.
const testSecret = "server-test-secret-0123456789abc"

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			HTTPAddr:          "127.0.0.1:0",
			BaseURL:           baseURL,
			ReadHeaderTimeout: 5 * time.Second,
		},
		Auth: config.AuthConfig{
			JWTSecret:  testSecret,
			SessionTTL: time.Hour,
		},
		Challenges: config.ChallengesConfig{
			TTL:           time.Minute,
			SweepInterval: time.Minute,
		},
		Database: config.DatabaseConfig{Driver: config.DriverMemory},
	}
}

type testEnv struct {
	srv     *Server
	ts      *httptest.Server
	backend store.Backend
}

// newTestEnv starts an httptest server whose public URL is also the
// configured base URL, so LNURL callbacks reach it.
func newTestEnv(t *testing.T, backend store.Backend, mutate func(*config.Config)) *testEnv {
	t.Helper()

	var handler http.Handler
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	cfg := testConfig(ts.URL)
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := NewWithStore(cfg, backend, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	handler = srv.Handler()

	return &testEnv{srv: srv, ts: ts, backend: backend}
}

func (e *testEnv) get(t *testing.T, path string, header http.Header) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.ts.URL+path, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (e *testEnv) startLogin(t *testing.T) (lnurlStr, k1 string) {
	t.Helper()
	resp, body := e.get(t, "/login", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		LNURL     string    `json:"lnurl"`
		K1        string    `json:"k1"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.K1, 64)
	require.False(t, out.ExpiresAt.IsZero())
	return out.LNURL, out.K1
}

func callbackPath(t *testing.T, k1 string, s *signer.Signer) string {
	t.Helper()
	raw, err := hex.DecodeString(k1)
	require.NoError(t, err)
	sig, err := s.Sign(raw)
	require.NoError(t, err)
	return callbackPathWith(k1, hex.EncodeToString(sig), s.PubKeyHex())
}

func callbackPathWith(k1, sig, key string) string {
	q := url.Values{}
	q.Set("tag", "login")
	q.Set("k1", k1)
	q.Set("sig", sig)
	q.Set("key", key)
	return "/auth?" + q.Encode()
}

func decodeStatus(t *testing.T, body []byte) (string, string) {
	t.Helper()
	var out struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	return out.Status, out.Reason
}

func decodeError(t *testing.T, body []byte) string {
	t.Helper()
	var out struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	return out.Error
}

func TestEndToEndLogin(t *testing.T) {
	env := newTestEnv(t, store.NewMemoryStore(0), nil)
	wallet, err := signer.Generate()
	require.NoError(t, err)

	encoded, k1 := env.startLogin(t)

	uri, err := lnurl.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, env.ts.URL+"/auth?tag=login&k1="+k1, uri)

	resp, body := env.get(t, "/login/"+k1, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Waiting for login", decodeError(t, body))

	require.NoError(t, wallet.WithHTTPClient(env.ts.Client()).Login(context.Background(), encoded))

	resp, body = env.get(t, "/login/"+k1, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var session struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	require.NoError(t, json.Unmarshal(body, &session))
	assert.Equal(t, "Bearer", session.TokenType)

	pubkey, err := env.srv.Issuer().Authenticate(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, wallet.PubKey(), pubkey)

	resp, body = env.get(t, "/api/me", http.Header{"Authorization": {"Bearer " + session.AccessToken}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me struct {
		PubKey string `json:"pubkey"`
	}
	require.NoError(t, json.Unmarshal(body, &me))
	assert.Equal(t, wallet.PubKeyHex(), me.PubKey)

	// A second wallet cannot reuse the challenge
	other, err := signer.Generate()
	require.NoError(t, err)
	err = other.WithHTTPClient(env.ts.Client()).Login(context.Background(), encoded)
	var cbErr *signer.CallbackError
	require.True(t, errors.As(err, &cbErr), "error = %v", err)
	assert.Equal(t, http.StatusOK, cbErr.StatusCode)
	assert.Equal(t, "Challenge is not found.", cbErr.Reason)

	resp, body = env.get(t, "/login/"+k1, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &session))
	pubkey, err = env.srv.Issuer().Authenticate(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, wallet.PubKey(), pubkey, "the first binding must survive")
}

func TestCallback_Errors(t *testing.T) {
	env := newTestEnv(t, store.NewMemoryStore(0), nil)
	wallet, err := signer.Generate()
	require.NoError(t, err)
	attacker, err := signer.Generate()
	require.NoError(t, err)

	_, k1 := env.startLogin(t)
	raw, _ := hex.DecodeString(k1)
	attackerSig, _ := attacker.Sign(raw)

	unknown := strings.Repeat("ab", 32)

	tests := []struct {
		name   string
		path   string
		status int
		reason string
	}{
		{"no params", "/auth", http.StatusBadRequest, "Invalid request."},
		{"missing sig", "/auth?tag=login&k1=" + k1 + "&key=" + wallet.PubKeyHex(), http.StatusBadRequest, "Invalid request."},
		{"wrong tag", strings.Replace(callbackPath(t, k1, wallet), "tag=login", "tag=withdraw", 1), http.StatusBadRequest, "Invalid request."},
		{"k1 not hex", callbackPathWith(strings.Repeat("zz", 32), "3006", wallet.PubKeyHex()), http.StatusBadRequest, "Invalid request."},
		{"sig prefixed", callbackPathWith(k1, "0x3006", wallet.PubKeyHex()), http.StatusBadRequest, "Invalid request."},
		{"forged signature", callbackPathWith(k1, hex.EncodeToString(attackerSig), wallet.PubKeyHex()), http.StatusBadRequest, "Invalid signature."},
		{"garbage signature", callbackPathWith(k1, "deadbeef", wallet.PubKeyHex()), http.StatusBadRequest, "Invalid signature."},
		{"short key", callbackPathWith(k1, hex.EncodeToString(attackerSig), "02ab"), http.StatusBadRequest, "Invalid signature."},
		{"unknown challenge", callbackPath(t, unknown, wallet), http.StatusOK, "Challenge is not found."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.get(t, tt.path, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
			status, reason := decodeStatus(t, body)
			assert.Equal(t, "ERROR", status)
			assert.Equal(t, tt.reason, reason)
		})
	}

	// None of the failures consumed the challenge
	resp, body := env.get(t, callbackPath(t, k1, wallet), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	status, _ := decodeStatus(t, body)
	assert.Equal(t, "OK", status)
}

func TestCallback_Expired(t *testing.T) {
	env := newTestEnv(t, store.NewMemoryStore(0), func(c *config.Config) {
		c.Challenges.TTL = 50 * time.Millisecond
	})
	wallet, err := signer.Generate()
	require.NoError(t, err)

	_, k1 := env.startLogin(t)
	time.Sleep(100 * time.Millisecond)

	resp, body := env.get(t, callbackPath(t, k1, wallet), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, reason := decodeStatus(t, body)
	assert.Equal(t, "Challenge is not found.", reason)

	resp, body = env.get(t, "/login/"+k1, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Challenge is not found.", decodeError(t, body))
}

func TestPoll_Errors(t *testing.T) {
	env := newTestEnv(t, store.NewMemoryStore(0), nil)

	resp, body := env.get(t, "/login/not-hex", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid challenge", decodeError(t, body))

	resp, body = env.get(t, "/login/"+strings.Repeat("cd", 32), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Challenge is not found.", decodeError(t, body))
}

func TestMe_RequiresToken(t *testing.T) {
	env := newTestEnv(t, store.NewMemoryStore(0), nil)

	resp, body := env.get(t, "/api/me", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid token", decodeError(t, body))

	resp, _ = env.get(t, "/api/me", http.Header{"Authorization": {"Bearer nope"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMe_UnknownUser(t *testing.T) {
	env := newTestEnv(t, store.NewMemoryStore(0), nil)

	session, err := env.srv.Issuer().Issue(append([]byte{0x03}, make([]byte, 32)...))
	require.NoError(t, err)

	resp, _ := env.get(t, "/api/me", http.Header{"Authorization": {"Bearer " + session.AccessToken}})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// downStore fails readiness checks.
type downStore struct {
	store.Backend
}

func (downStore) Ping(ctx context.Context) error { return errors.New("connection refused") }

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, store.NewMemoryStore(0), nil)

	resp, body := env.get(t, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, _ = env.get(t, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down := newTestEnv(t, downStore{store.NewMemoryStore(0)}, nil)
	resp, _ = down.get(t, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, store.NewMemoryStore(0), nil)

	resp, _ := env.get(t, "/health", nil)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	resp, _ = env.get(t, "/health", http.Header{RequestIDHeader: {"req-123"}})
	assert.Equal(t, "req-123", resp.Header.Get(RequestIDHeader))

	resp, _ = env.get(t, "/health", http.Header{RequestIDHeader: {strings.Repeat("x", 500)}})
	assert.Len(t, resp.Header.Get(RequestIDHeader), 36)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, store.NewMemoryStore(0), func(c *config.Config) {
		c.Server.AllowedOrigins = []string{"https://app.example.com"}
	})

	resp, _ := env.get(t, "/login", http.Header{"Origin": {"https://app.example.com"}})
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, _ = env.get(t, "/login", http.Header{"Origin": {"https://evil.example.com"}})
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))

	plain := newTestEnv(t, store.NewMemoryStore(0), nil)
	resp, _ = plain.get(t, "/login", http.Header{"Origin": {"https://app.example.com"}})
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestSweeper(t *testing.T) {
	backend := store.NewMemoryStore(0)
	ctx := context.Background()

	_, err := backend.CreateChallenge(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	live, err := backend.CreateChallenge(ctx, time.Hour)
	require.NoError(t, err)

	sw, err := NewSweeper(backend, time.Minute, testLogger())
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	n, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = backend.Lookup(ctx, live.ID)
	assert.NoError(t, err)

	sw.Start()
	assert.NoError(t, sw.Stop(ctx))

	_, err = NewSweeper(backend, 0, testLogger())
	assert.Error(t, err)
}

func TestServe_StopsOnCancel(t *testing.T) {
	srv, err := NewWithStore(testConfig("https://login.example.com"), store.NewMemoryStore(0), testLogger())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestNew_OpensConfiguredStore(t *testing.T) {
	srv, err := New(context.Background(), testConfig("https://login.example.com"), testLogger())
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, srv.store)
	assert.NoError(t, srv.Shutdown(context.Background()))
}

func TestNew_RejectsWeakSecret(t *testing.T) {
	cfg := testConfig("https://login.example.com")
	cfg.Auth.JWTSecret = "short"
	_, err := New(context.Background(), cfg, testLogger())
	assert.Error(t, err)
}
