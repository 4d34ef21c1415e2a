package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"agentnet/internal/ledger"
)

type entryDTO struct {
	Action    string `json:"action"`
	Day       string `json:"day"`
	Points    int64  `json:"points"`
	Streak    int    `json:"streak,omitempty"`
	Reference string `json:"reference,omitempty"`
	CreatedAt string `json:"created_at"`
}

func entryToDTO(e ledger.Entry) entryDTO {
	return entryDTO{
		Action:    string(e.Action),
		Day:       e.Day,
		Points:    e.Points,
		Streak:    e.Streak,
		Reference: e.Reference,
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s server) handleGetPoints(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	balance, err := s.store.Balance(r.Context(), userID)
	if err != nil {
		logError(r.Context(), "balance query failed", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	entries, err := s.store.History(r.Context(), userID, "", 30, 0)
	if err != nil {
		logError(r.Context(), "history query failed", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	recent := make([]entryDTO, 0, len(entries))
	for _, e := range entries {
		recent = append(recent, entryToDTO(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"points": balance,
		"recent": recent,
	})
}

func (s server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	res, err := s.store.CreditOnce(r.Context(), userID, ledger.ActionDailyCheckIn, s.rewards.DailyCheckIn, "")
	if err != nil {
		logError(r.Context(), "check-in credit failed", err)
		writeError(w, http.StatusInternalServerError, "check-in failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s server) handleCheckInStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	entry, err := s.store.CreditedToday(r.Context(), userID, ledger.ActionDailyCheckIn)
	if err != nil {
		logError(r.Context(), "check-in status query failed", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	out := map[string]any{"checked_in": entry != nil}
	if entry != nil {
		out["streak"] = entry.Streak
		out["points"] = entry.Points
	}
	writeJSON(w, http.StatusOK, out)
}

type firstConversationRequest struct {
	ChatID string `json:"chat_id"`
}

func (s server) handleFirstConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req firstConversationRequest
	if !readJSONLimited(w, r, &req, 4*1024) {
		return
	}
	if strings.TrimSpace(req.ChatID) == "" {
		writeError(w, http.StatusBadRequest, "missing chat_id")
		return
	}

	// One-time reward: any prior entry for this action means it was claimed,
	// whatever day it landed on.
	prior, err := s.store.History(r.Context(), userID, ledger.ActionFirstConversation, 1, 0)
	if err != nil {
		logError(r.Context(), "first-conversation lookup failed", err)
		writeError(w, http.StatusInternalServerError, "credit failed")
		return
	}
	if len(prior) > 0 {
		balance, err := s.store.Balance(r.Context(), userID)
		if err != nil {
			logError(r.Context(), "balance query failed", err)
			writeError(w, http.StatusInternalServerError, "credit failed")
			return
		}
		writeJSON(w, http.StatusOK, ledger.CreditResult{Awarded: false, TotalPoints: balance})
		return
	}

	res, err := s.store.CreditOnce(r.Context(), userID, ledger.ActionFirstConversation, s.rewards.FirstConversation, strings.TrimSpace(req.ChatID))
	if err != nil {
		logError(r.Context(), "first-conversation credit failed", err)
		writeError(w, http.StatusInternalServerError, "credit failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s server) handleFirstConversationStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	prior, err := s.store.History(r.Context(), userID, ledger.ActionFirstConversation, 1, 0)
	if err != nil {
		logError(r.Context(), "first-conversation status failed", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"claimed": len(prior) > 0})
}

func (s server) handlePointsHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	q := r.URL.Query()
	var action ledger.Action
	if v := strings.TrimSpace(q.Get("action")); v != "" {
		parsed, err := ledger.ParseAction(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid action")
			return
		}
		action = parsed
	}
	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = clampInt(n, 1, 200)
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		offset = n
	}

	entries, err := s.store.History(r.Context(), userID, action, limit, offset)
	if err != nil {
		logError(r.Context(), "history query failed", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	out := make([]entryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryToDTO(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": out,
		"limit":   limit,
		"offset":  offset,
	})
}

// handleTotalUsage reports a synthetic per-model usage split derived from the
// points balance. The client renders it as an activity overview; it is an
// estimate, not metering.
func (s server) handleTotalUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	balance, err := s.store.Balance(r.Context(), userID)
	if err != nil {
		logError(r.Context(), "balance query failed", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	type modelUsage struct {
		Model string `json:"model"`
		Used  int64  `json:"used"`
	}
	split := []modelUsage{
		{Model: "standard", Used: balance * 6 / 10},
		{Model: "advanced", Used: balance * 3 / 10},
		{Model: "image", Used: balance * 1 / 10},
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"estimate": true,
		"total":    balance,
		"models":   split,
	})
}
