package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"agentnet/internal/pending"
	"agentnet/internal/wallet"
)

const walletChallengeDomain = "agentnet"

func newWalletNonce() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

type walletChallengeRequest struct {
	Address string `json:"address"`
}

type walletVerifyRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

func (s server) handleWalletChallenge(w http.ResponseWriter, r *http.Request) {
	var req walletChallengeRequest
	if !readJSONLimited(w, r, &req, 4*1024) {
		return
	}
	address, err := wallet.NormalizeAddress(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	nonce, err := newWalletNonce()
	if err != nil {
		logError(r.Context(), "nonce generation failed", err)
		writeError(w, http.StatusInternalServerError, "challenge failed")
		return
	}
	issuedAt := time.Now().UTC().Truncate(time.Second)

	ch := wallet.NewChallenge(walletChallengeDomain, address, nonce, issuedAt)
	message, err := ch.Message()
	if err != nil {
		logError(r.Context(), "build challenge failed", err)
		writeError(w, http.StatusInternalServerError, "challenge failed")
		return
	}

	err = s.pend.PutWalletChallenge(r.Context(), address, pending.WalletChallenge{
		Nonce:    nonce,
		IssuedAt: issuedAt.Format(time.RFC3339),
	})
	if err != nil {
		logError(r.Context(), "store challenge failed", err)
		writeError(w, http.StatusInternalServerError, "challenge failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"address": address,
		"message": message,
	})
}

func (s server) handleWalletVerify(w http.ResponseWriter, r *http.Request) {
	var req walletVerifyRequest
	if !readJSONLimited(w, r, &req, 8*1024) {
		return
	}
	address, err := wallet.NormalizeAddress(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	ch, err := s.pend.TakeWalletChallenge(r.Context(), address)
	if errors.Is(err, pending.ErrNotFound) {
		writeError(w, http.StatusBadRequest, "challenge expired")
		return
	}
	if err != nil {
		logError(r.Context(), "load challenge failed", err)
		writeError(w, http.StatusInternalServerError, "verify failed")
		return
	}

	issuedAt, err := time.Parse(time.RFC3339, ch.IssuedAt)
	if err != nil {
		logError(r.Context(), "parse challenge issued_at failed", err)
		writeError(w, http.StatusInternalServerError, "verify failed")
		return
	}
	message, err := wallet.NewChallenge(walletChallengeDomain, address, ch.Nonce, issuedAt).Message()
	if err != nil {
		logError(r.Context(), "rebuild challenge failed", err)
		writeError(w, http.StatusInternalServerError, "verify failed")
		return
	}

	if err := wallet.Verify(message, req.Signature, address); err != nil {
		writeError(w, http.StatusUnauthorized, "signature mismatch")
		return
	}

	user, _, isNew, err := s.store.UpsertWalletUser(r.Context(), address)
	if err != nil {
		logError(r.Context(), "upsert wallet user failed", err)
		writeError(w, http.StatusInternalServerError, "verify failed")
		return
	}

	apiKey, err := s.issueAPIKey(r.Context(), user.ID)
	if err != nil {
		logError(r.Context(), "issue api key failed", err)
		writeError(w, http.StatusInternalServerError, "verify failed")
		return
	}

	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"user_id": user.ID.String(),
		"api_key": apiKey,
		"new":     isNew,
	})
}
