package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/subsync/pkg/billing"
	"github.com/mihaimyh/subsync/pkg/ratelimit"
	"github.com/mihaimyh/subsync/storage/memory"
)

const (
	testUserID      = "6f1c2a4e-9b7d-4c3e-8a15-2f0d9e6b7a11"
	testOtherUserID = "0b8e7d6c-5a4f-4e3d-9c2b-1a0f9e8d7c6b"
	testEmail       = "ada@example.com"
)

var errBoom = errors.New("boom")

// stubReconciler returns canned outcomes and records the user ids it saw.
type stubReconciler struct {
	mu     sync.Mutex
	calls  []string
	result *billing.Result
	err    error
	delay  time.Duration
}

func (s *stubReconciler) Reconcile(ctx context.Context, userID string) (*billing.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, userID)
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return billing.DefaultResult(), nil
}

func (s *stubReconciler) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestHandler(t *testing.T, rec Reconciler, mutate func(*Config)) *Handler {
	t.Helper()
	config := Config{
		Reconciler:   rec,
		Authenticate: FromHeader("X-User-ID"),
	}
	if mutate != nil {
		mutate(&config)
	}
	h, err := NewHandler(config)
	require.NoError(t, err)
	return h
}

func doRequest(h http.Handler, method, target, userID, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body.Error
}

func TestNewHandler_Validation(t *testing.T) {
	_, err := NewHandler(Config{Authenticate: FromHeader("X-User-ID")})
	assert.Error(t, err)

	_, err = NewHandler(Config{Reconciler: &stubReconciler{}})
	assert.Error(t, err)

	limiter := ratelimit.NewMemoryLimiter()
	t.Cleanup(limiter.Stop)
	_, err = NewHandler(Config{
		Reconciler:   &stubReconciler{},
		Authenticate: FromHeader("X-User-ID"),
		RateLimiter:  limiter,
		RateLimit:    ratelimit.Policy{Limit: -1, Window: time.Second},
	})
	assert.ErrorIs(t, err, ratelimit.ErrInvalidPolicy)
}

func TestHandler_Sync_HappyPath(t *testing.T) {
	trialEnd := time.Unix(1700000000, 0).UTC()
	rec := &stubReconciler{result: &billing.Result{
		Status:      billing.StatusTrial,
		Tier:        billing.TierTrial,
		TrialEndsAt: &trialEnd,
	}}
	h := newTestHandler(t, rec, nil)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			rr := doRequest(h, method, "/v1/subscription/sync", testUserID, "")

			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			assert.JSONEq(t,
				`{"status":"trial","tier":"trial","trial_ends_at":"2023-11-14T22:13:20.000Z"}`,
				rr.Body.String())
		})
	}
	assert.Equal(t, []string{testUserID, testUserID}, rec.calls)
}

func TestHandler_Sync_Unauthenticated(t *testing.T) {
	rec := &stubReconciler{}
	h := newTestHandler(t, rec, nil)

	rr := doRequest(h, http.MethodPost, "/v1/subscription/sync", "", "")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rr))
	assert.Zero(t, rec.callCount())
}

func TestHandler_Sync_AuthenticatorErrorIsUnauthorized(t *testing.T) {
	rec := &stubReconciler{}
	h := newTestHandler(t, rec, func(c *Config) {
		c.Authenticate = func(*http.Request) (string, error) { return "", errBoom }
	})

	rr := doRequest(h, http.MethodGet, "/v1/subscription/sync", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHandler_Sync_InvalidUserID(t *testing.T) {
	rec := &stubReconciler{}
	h := newTestHandler(t, rec, nil)

	rr := doRequest(h, http.MethodPost, "/v1/subscription/sync", "not-a-uuid", "")

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid request", decodeError(t, rr))
	assert.Zero(t, rec.callCount())
}

func TestHandler_Sync_ExplicitUserID(t *testing.T) {
	rec := &stubReconciler{}
	h := newTestHandler(t, rec, nil)

	t.Run("matching body", func(t *testing.T) {
		rr := doRequest(h, http.MethodPost, "/v1/subscription/sync", testUserID, `{"user_id":"`+testUserID+`"}`)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("matching query, different case", func(t *testing.T) {
		rr := doRequest(h, http.MethodGet, "/v1/subscription/sync?user_id="+strings.ToUpper(testUserID), testUserID, "")
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("other user in body", func(t *testing.T) {
		before := rec.callCount()
		rr := doRequest(h, http.MethodPost, "/v1/subscription/sync", testUserID, `{"user_id":"`+testOtherUserID+`"}`)
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Equal(t, "forbidden", decodeError(t, rr))
		assert.Equal(t, before, rec.callCount())
	})

	t.Run("other user in query", func(t *testing.T) {
		rr := doRequest(h, http.MethodGet, "/v1/subscription/sync?user_id="+testOtherUserID, testUserID, "")
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("malformed user_id in body", func(t *testing.T) {
		before := rec.callCount()
		rr := doRequest(h, http.MethodPost, "/v1/subscription/sync", testUserID, `{"user_id":"not-a-uuid"}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "invalid request", decodeError(t, rr))
		assert.Equal(t, before, rec.callCount())
	})

	t.Run("malformed user_id in query", func(t *testing.T) {
		rr := doRequest(h, http.MethodGet, "/v1/subscription/sync?user_id=12345", testUserID, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rr := doRequest(h, http.MethodPost, "/v1/subscription/sync", testUserID, `{"user_id":`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestHandler_Sync_InternalErrorsAreGeneric(t *testing.T) {
	rec := &stubReconciler{err: fmt.Errorf("%w: stripe said sk_live_secret is invalid", billing.ErrProviderAPIError)}
	h := newTestHandler(t, rec, nil)

	rr := doRequest(h, http.MethodPost, "/v1/subscription/sync", testUserID, "")

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rr.Body.String())
	assert.NotContains(t, rr.Body.String(), "sk_live")
}

func TestHandler_Sync_RateLimited(t *testing.T) {
	rec := &stubReconciler{}
	limiter := ratelimit.NewMemoryLimiter()
	t.Cleanup(limiter.Stop)

	h := newTestHandler(t, rec, func(c *Config) {
		c.RateLimiter = limiter
		c.RateLimit = ratelimit.Policy{Limit: 1, Window: time.Minute}
	})

	rr := doRequest(h, http.MethodPost, "/v1/subscription/sync", testUserID, "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(h, http.MethodPost, "/v1/subscription/sync", testUserID, "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.Equal(t, "rate limited", decodeError(t, rr))
	assert.Equal(t, 1, rec.callCount())

	// Other users have their own budget
	rr = doRequest(h, http.MethodPost, "/v1/subscription/sync", testOtherUserID, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

// failingLimiter always errors.
type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, ratelimit.Policy) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errBoom
}

func TestHandler_Sync_LimiterOutageFailsOpen(t *testing.T) {
	rec := &stubReconciler{}
	h := newTestHandler(t, rec, func(c *Config) { c.RateLimiter = failingLimiter{} })

	rr := doRequest(h, http.MethodPost, "/v1/subscription/sync", testUserID, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, rec.callCount())
}

func TestHandler_Sync_RequestTimeout(t *testing.T) {
	rec := &stubReconciler{delay: time.Second}
	h := newTestHandler(t, rec, func(c *Config) { c.RequestTimeout = 20 * time.Millisecond })

	rr := doRequest(h, http.MethodPost, "/v1/subscription/sync", testUserID, "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(t, &stubReconciler{}, nil)

	rr := doRequest(h, http.MethodDelete, "/v1/subscription/sync", testUserID, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "GET, POST", rr.Header().Get("Allow"))
}

func TestHandler_CustomOnError(t *testing.T) {
	var got error
	h := newTestHandler(t, &stubReconciler{}, func(c *Config) {
		c.OnError = func(w http.ResponseWriter, _ *http.Request, err error) {
			got = err
			w.WriteHeader(http.StatusTeapot)
		}
	})

	rr := doRequest(h, http.MethodPost, "/v1/subscription/sync", "", "")
	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.ErrorIs(t, got, billing.ErrUnauthorized)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusCode(billing.ErrInvalidUserID))
	assert.Equal(t, http.StatusUnauthorized, StatusCode(billing.ErrUnauthorized))
	assert.Equal(t, http.StatusForbidden, StatusCode(billing.ErrForbidden))
	assert.Equal(t, http.StatusTooManyRequests, StatusCode(billing.ErrRateLimited))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(billing.ErrStoreUnavailable))
}

// ledgerByEmail serves one customer with an active subscription.
type ledgerByEmail struct{}

func (ledgerByEmail) Name() string { return "test" }

func (ledgerByEmail) GetSubscription(context.Context, string) (*billing.RawSubscription, error) {
	return &billing.RawSubscription{ID: "sub_1", CustomerID: "cus_1", Status: "active"}, nil
}

func (ledgerByEmail) LatestSubscription(_ context.Context, customerID string) (*billing.RawSubscription, error) {
	return &billing.RawSubscription{ID: "sub_1", CustomerID: customerID, Status: "active"}, nil
}

func (ledgerByEmail) FindCustomersByEmail(_ context.Context, email string, _ int) ([]string, error) {
	if email == testEmail {
		return []string{"cus_1"}, nil
	}
	return nil, nil
}

func TestHandler_Sync_EndToEndWithJWT(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.SetProfile(ctx, &billing.Profile{UserID: testUserID, Email: testEmail}))

	reconciler, err := billing.NewReconciler(billing.Config{Store: store, Ledger: ledgerByEmail{}})
	require.NoError(t, err)

	verifier, err := NewJWTVerifier(JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	h := newTestHandler(t, reconciler, func(c *Config) { c.Authenticate = verifier.Authenticate })

	req := httptest.NewRequest(http.MethodPost, "/v1/subscription/sync", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testUserID, time.Hour))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"active","tier":"paid","trial_ends_at":null}`, rr.Body.String())

	stored, err := store.GetSubscription(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, "cus_1", stored.StripeCustomerID)
	assert.Equal(t, "sub_1", stored.StripeSubscriptionID)
	assert.Equal(t, billing.TierPaid, stored.Tier)
}
