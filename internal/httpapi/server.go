package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"agentnet/internal/config"
	"agentnet/internal/keys"
	"agentnet/internal/mediastore"
	"agentnet/internal/oauth1"
	"agentnet/internal/pending"
	"agentnet/internal/share"
	"agentnet/internal/store"
	"agentnet/internal/twitter"

	"github.com/google/uuid"
)

type server struct {
	store store.Store
	pend  *pending.Store
	tw    *twitter.Client
	media mediastore.Store
	pub   *share.Publisher

	pepper        string
	publicBaseURL string
	encryptionKey string

	consumer oauth1.Credentials
	rewards  config.Rewards
}

type ctxKey string

const ctxUserID ctxKey = "user_id"

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func readJSONLimited(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := readJSON(r, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func (s server) userAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := bearerToken(r)
		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		hash := keys.HashAPIKey(s.pepper, apiKey)

		userID, err := s.store.UserIDByAPIKeyHash(r.Context(), hash)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if err != nil {
			logError(r.Context(), "auth lookup failed", err)
			writeError(w, http.StatusInternalServerError, "auth lookup failed")
			return
		}

		ctx := context.WithValue(r.Context(), ctxUserID, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ctxUserID).(uuid.UUID)
	return id, ok
}

// issueAPIKey mints and stores a key for the user, returning the raw key.
func (s server) issueAPIKey(ctx context.Context, userID uuid.UUID) (string, error) {
	apiKey, err := keys.NewAPIKey()
	if err != nil {
		return "", err
	}
	if err := s.store.InsertAPIKey(ctx, userID, keys.HashAPIKey(s.pepper, apiKey)); err != nil {
		return "", err
	}
	return apiKey, nil
}

func (s server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID.String()})
}
