package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	goMagicLink "github.com/MrEthical07/goMagicLink"
	"github.com/MrEthical07/goMagicLink/dashboard"
	"github.com/MrEthical07/goMagicLink/directory"
	"go.uber.org/zap"
)

// FlowSecretHeader carries the shared secret of the host flow engine.
const FlowSecretHeader = "X-Flow-Secret"

const maxFlowBody = 4 << 10

type flowRequest struct {
	Username string `json:"username"`
	ClientIP string `json:"clientIp"`
}

type flowResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// tenantSettings is the settings store as the flow endpoint sees it.
// settings.Store implements it.
type tenantSettings interface {
	dashboard.SettingsSource
	Has(tenant string) bool
}

// userSource loads a user's attributes; directory.Store implements it.
type userSource interface {
	User(ctx context.Context, tenant, username string) (map[string]string, error)
}

type flowHandler struct {
	auth     *goMagicLink.Authenticator
	users    userSource
	settings tenantSettings
	secret   string
	logger   *zap.Logger
}

func (h *flowHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		got := r.Header.Get(FlowSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid flow secret"})
			return
		}
	}

	// Only tenants in the settings file get an event cache.
	tenant := dashboard.Realm(r)
	if !h.settings.Has(tenant) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown realm"})
		return
	}

	var body flowRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxFlowBody))
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	// A flow engine that hangs up does not cancel a challenge already on the
	// user's phone; only the verification timeout ends it.
	ctx := context.WithoutCancel(r.Context())
	req := goMagicLink.FlowRequest{
		TenantID: tenant,
		User:     h.lookupUser(ctx, tenant, strings.TrimSpace(body.Username)),
		ClientIP: strings.TrimSpace(body.ClientIP),
		Settings: h.settings.Settings(tenant),
	}

	d := h.auth.Authenticate(ctx, req)
	if d.Allowed {
		writeJSON(w, http.StatusOK, flowResponse{Status: "success"})
		return
	}
	writeJSON(w, statusFor(d.Category), flowResponse{Status: "failure", Error: string(d.Category)})
}

// lookupUser returns nil for a blank or unknown username so the attempt is
// recorded as having no user. A directory outage yields a user without
// attributes; the authenticator retries the attribute itself.
func (h *flowHandler) lookupUser(ctx context.Context, tenant, username string) *goMagicLink.User {
	if username == "" {
		return nil
	}
	attrs, err := h.users.User(ctx, tenant, username)
	switch {
	case errors.Is(err, directory.ErrUserNotFound):
		return nil
	case err != nil:
		h.logger.Warn("directory user lookup failed",
			zap.String("tenant", tenant),
			zap.String("user", username),
			zap.Error(err),
		)
		return &goMagicLink.User{Username: username}
	}
	return &goMagicLink.User{Username: username, Attributes: attrs}
}

func statusFor(c goMagicLink.FailureCategory) int {
	switch c {
	case goMagicLink.CategoryUnknownUser, goMagicLink.CategoryInvalidUser, goMagicLink.CategoryInvalidCredentials:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
