package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/mihaimyh/subsync/pkg/billing"
)

const maxBodyBytes = 1 << 12

// Handler serves the subscription sync endpoint
type Handler struct {
	config  Config
	service *Service
}

// ServeHTTP accepts GET and POST.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodPost:
		h.Sync(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		h.writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
	}
}

// Sync reconciles the caller's billing state and returns the normalized result
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	// 1. Authenticate
	userID, err := h.config.Authenticate(r)
	if err != nil {
		if !errors.Is(err, billing.ErrUnauthorized) {
			err = fmt.Errorf("%w: %w", billing.ErrUnauthorized, err)
		}
		h.handleError(w, r, err, "")
		return
	}

	// 2. An explicit user_id may only name the caller
	requested, err := requestedUserID(r)
	if err != nil {
		h.handleError(w, r, err, userID)
		return
	}
	if requested != "" {
		if err := billing.ValidateUserID(requested); err != nil {
			h.handleError(w, r, err, userID)
			return
		}
	}
	if requested != "" && !strings.EqualFold(requested, userID) {
		h.handleError(w, r, fmt.Errorf("%w: user_id does not match caller", billing.ErrForbidden), userID)
		return
	}

	if err := billing.ValidateUserID(userID); err != nil {
		h.handleError(w, r, err, userID)
		return
	}

	// 3. Rate limit
	if h.config.RateLimiter != nil {
		decision, err := h.config.RateLimiter.Allow(r.Context(), rateLimitKeyPrefix+userID, h.config.RateLimit)
		switch {
		case err != nil:
			// Limiter outages do not block reconciliation.
			h.config.Logger.Warn("rate limiter unavailable",
				billing.Field{Key: "user_id", Value: userID},
				billing.Field{Key: "error", Value: err.Error()},
			)
		case !decision.Allowed:
			seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			h.handleError(w, r, billing.ErrRateLimited, userID)
			return
		}
	}

	// 4. Reconcile
	ctx, cancel := context.WithTimeout(r.Context(), h.config.RequestTimeout)
	defer cancel()

	res, err := h.service.Sync(ctx, userID)
	if err != nil {
		h.handleError(w, r, err, userID)
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

// requestedUserID reads user_id from the query string or a JSON body.
func requestedUserID(r *http.Request) (string, error) {
	if q := r.URL.Query().Get("user_id"); q != "" {
		return q, nil
	}
	if r.Method != http.MethodPost || r.Body == nil {
		return "", nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %w", billing.ErrInvalidUserID, err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", nil
	}

	var req SyncRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return "", fmt.Errorf("%w: malformed body: %w", billing.ErrInvalidUserID, err)
	}
	return req.UserID, nil
}

// StatusCode maps an error to its HTTP status.
func StatusCode(err error) int {
	switch billing.ErrorKind(err) {
	case billing.KindValidation:
		return http.StatusBadRequest
	case billing.KindUnauthorized:
		return http.StatusUnauthorized
	case billing.KindForbidden:
		return http.StatusForbidden
	case billing.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage never exposes internal error details.
func publicMessage(kind billing.Kind) string {
	switch kind {
	case billing.KindValidation:
		return "invalid request"
	case billing.KindUnauthorized:
		return "unauthorized"
	case billing.KindForbidden:
		return "forbidden"
	case billing.KindRateLimited:
		return "rate limited"
	default:
		return "internal error"
	}
}

// handleError logs err with context and writes a generic response
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, userID string) {
	kind := billing.ErrorKind(err)
	fields := []billing.Field{
		{Key: "kind", Value: string(kind)},
		{Key: "path", Value: r.URL.Path},
		{Key: "error", Value: err.Error()},
	}
	if userID != "" {
		fields = append(fields, billing.Field{Key: "user_id", Value: userID})
	}
	if kind == billing.KindInternal {
		h.config.Logger.Error("subscription sync failed", fields...)
	} else {
		h.config.Logger.Info("subscription sync rejected", fields...)
	}

	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}
	h.writeJSON(w, StatusCode(err), ErrorResponse{Error: publicMessage(kind)})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.config.Logger.Warn("failed to encode response", billing.Field{Key: "error", Value: err.Error()})
	}
}
