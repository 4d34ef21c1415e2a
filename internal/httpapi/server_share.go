package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"agentnet/internal/share"
	"agentnet/internal/store"
	"agentnet/internal/twitter"

	"github.com/google/uuid"
)

type shareRequest struct {
	ImageData string `json:"image_data"`
	Text      string `json:"text"`
	MessageID string `json:"message_id"`
}

const maxShareBody = 8 << 20 // base64 screenshot payloads get large

func (s server) handleShareTwitter(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !s.twitterConfigured() {
		writeError(w, http.StatusServiceUnavailable, "twitter not configured")
		return
	}

	var req shareRequest
	if !readJSONLimited(w, r, &req, maxShareBody) {
		return
	}
	if strings.TrimSpace(req.ImageData) == "" {
		writeError(w, http.StatusBadRequest, "missing image_data")
		return
	}

	conn, err := s.store.TwitterConnectionByUser(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":      "not_connected",
			"needs_auth": true,
		})
		return
	}
	if err != nil {
		logError(r.Context(), "load twitter connection failed", err)
		writeError(w, http.StatusInternalServerError, "share failed")
		return
	}

	cred, err := s.twitterCredential(conn)
	if err != nil {
		logError(r.Context(), "unseal token secret failed", err)
		writeError(w, http.StatusInternalServerError, "share failed")
		return
	}

	result, err := s.pub.PublishImageWithText(r.Context(), share.Request{
		UserID:     userID,
		ImageData:  req.ImageData,
		Text:       req.Text,
		MessageID:  strings.TrimSpace(req.MessageID),
		Credential: cred,
	})
	if err != nil {
		s.writeShareError(w, r, userID, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s server) writeShareError(w http.ResponseWriter, r *http.Request, userID uuid.UUID, err error) {
	switch {
	case errors.Is(err, share.ErrInvalidImageData):
		writeError(w, http.StatusBadRequest, "invalid_image_data")
	case errors.Is(err, twitter.ErrCredentialExpired):
		// The stored token is dead; force a reconnect.
		s.dropConnection(r.Context(), userID)
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":      "credential_expired",
			"needs_auth": true,
		})
	default:
		var stageErr *share.StageError
		if errors.As(err, &stageErr) {
			logError(r.Context(), "share "+string(stageErr.Stage)+" failed", err)
			switch stageErr.Stage {
			case share.StageUploading:
				writeError(w, http.StatusBadGateway, "upload_failed")
			case share.StagePublishing:
				writeError(w, http.StatusBadGateway, "publish_failed")
			default:
				writeError(w, http.StatusInternalServerError, "share failed")
			}
			return
		}
		logError(r.Context(), "share failed", err)
		writeError(w, http.StatusInternalServerError, "share failed")
	}
}
