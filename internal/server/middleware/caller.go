package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bitbondlabs/bitbondd/internal/crypto"
	"github.com/bitbondlabs/bitbondd/internal/domain"
)

// Headers carried by signed call envelopes.
const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"

	// HeaderCaller names the caller directly. Only honoured in dev mode,
	// where unsigned calls are convenient for local testing.
	HeaderCaller = "X-Caller"
)

// maxSignedBodyBytes bounds how much of a request body the middleware will
// buffer for digest verification.
const maxSignedBodyBytes = 1 << 20

type callerCtxKey struct{}

// CallerFrom returns the principal recovered for the request, if any.
func CallerFrom(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(callerCtxKey{}).(domain.Principal)
	return p, ok && !p.Zero()
}

// SignedCaller returns middleware that authenticates mutating API calls.
// POST, PUT and DELETE requests under /api/ must carry X-Signature and
// X-Timestamp; the caller is recovered from the signature over
// (method, path, body, timestamp) and attached to the request context.
// Timestamps older or newer than maxSkew are rejected to limit replay.
// In dev mode an unsigned request may name its caller with X-Caller instead.
// Operator endpoints under /api/dev/ are exempt; they carry no caller.
func SignedCaller(maxSkew time.Duration, devMode bool, logger *slog.Logger) func(http.Handler) http.Handler {
	if maxSkew <= 0 {
		maxSkew = 30 * time.Second
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !mutating(r.Method) || strings.HasPrefix(r.URL.Path, "/api/dev/") {
				next.ServeHTTP(w, r)
				return
			}

			if devMode && r.Header.Get(HeaderSignature) == "" {
				if raw := r.Header.Get(HeaderCaller); raw != "" {
					caller, err := domain.ParsePrincipal(raw)
					if err != nil {
						writeCallerError(w, http.StatusBadRequest, "malformed caller")
						return
					}
					next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
					return
				}
			}

			sig := r.Header.Get(HeaderSignature)
			tsRaw := r.Header.Get(HeaderTimestamp)
			if sig == "" || tsRaw == "" {
				writeCallerError(w, http.StatusUnauthorized, "missing call signature")
				return
			}
			ts, err := strconv.ParseInt(tsRaw, 10, 64)
			if err != nil {
				writeCallerError(w, http.StatusBadRequest, "malformed timestamp")
				return
			}
			if skew := time.Since(time.Unix(ts, 0)); skew > maxSkew || skew < -maxSkew {
				writeCallerError(w, http.StatusUnauthorized, "stale call signature")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodyBytes))
			if err != nil {
				writeCallerError(w, http.StatusBadRequest, "unreadable body")
				return
			}
			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			caller, err := crypto.RecoverCaller(r.Method, r.URL.Path, body, ts, sig)
			if err != nil {
				logger.WarnContext(r.Context(), "caller recovery failed",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeCallerError(w, http.StatusUnauthorized, "invalid call signature")
				return
			}

			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
		})
	}
}

func withCaller(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, callerCtxKey{}, p)
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func writeCallerError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
