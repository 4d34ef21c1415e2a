package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"unicode"

	"agentnet/internal/store"

	"golang.org/x/crypto/bcrypt"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 32
	minPasswordLen = 8
	maxPasswordLen = 128
)

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	UserID string `json:"user_id"`
	APIKey string `json:"api_key"`
}

func validUsername(name string) bool {
	if len(name) < minUsernameLen || len(name) > maxUsernameLen {
		return false
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' {
			return false
		}
	}
	return true
}

func (s server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if !readJSONLimited(w, r, &req, 4*1024) {
		return
	}
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	if !validUsername(req.Username) {
		writeError(w, http.StatusBadRequest, "invalid username")
		return
	}
	if len(req.Password) < minPasswordLen || len(req.Password) > maxPasswordLen {
		writeError(w, http.StatusBadRequest, "invalid password")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logError(r.Context(), "hash password failed", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	user, err := s.store.CreateUser(r.Context(), req.Username, string(hash))
	if errors.Is(err, store.ErrDuplicate) {
		writeError(w, http.StatusConflict, "username taken")
		return
	}
	if err != nil {
		logError(r.Context(), "create user failed", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	apiKey, err := s.issueAPIKey(r.Context(), user.ID)
	if err != nil {
		logError(r.Context(), "issue api key failed", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{UserID: user.ID.String(), APIKey: apiKey})
}

func (s server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if !readJSONLimited(w, r, &req, 4*1024) {
		return
	}
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing credentials")
		return
	}

	user, err := s.store.UserByUsername(r.Context(), req.Username)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		logError(r.Context(), "user lookup failed", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	apiKey, err := s.issueAPIKey(r.Context(), user.ID)
	if err != nil {
		logError(r.Context(), "issue api key failed", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{UserID: user.ID.String(), APIKey: apiKey})
}
