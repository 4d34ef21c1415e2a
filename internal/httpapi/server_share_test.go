package httpapi

import (
	"encoding/base64"
	"errors"
	"net/http"
	"testing"

	"agentnet/internal/store"
)

func jpegDataURL() string {
	raw := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, []byte("test-image-payload")...)
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(raw)
}

func TestShareTwitterSuccessCreditsPoints(t *testing.T) {
	e := newTestEnv(t)
	key := e.register(t, "alice")
	e.connectTwitter(t, key)

	res, out := e.do(t, http.MethodPost, "/v1/share/twitter", key, map[string]string{
		"image_data": jpegDataURL(),
		"text":       "look what I made",
		"message_id": "msg-1",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("share: status %d (%v)", res.StatusCode, out)
	}
	if out["tweet_id"] != "tw-99" {
		t.Fatalf("tweet_id = %v", out["tweet_id"])
	}
	if out["tweet_url"] != "https://twitter.com/user/status/tw-99" {
		t.Fatalf("tweet_url = %v", out["tweet_url"])
	}
	if out["points_awarded"].(float64) != 200 {
		t.Fatalf("points_awarded = %v, want 200", out["points_awarded"])
	}
	if e.twitter.uploads != 1 || e.twitter.tweets != 1 {
		t.Fatalf("remote calls = %d uploads, %d tweets", e.twitter.uploads, e.twitter.tweets)
	}
	if e.twitter.lastTweetText != "look what I made" {
		t.Fatalf("tweet text = %q", e.twitter.lastTweetText)
	}

	// Same message shared twice only pays once.
	res, out = e.do(t, http.MethodPost, "/v1/share/twitter", key, map[string]string{
		"image_data": jpegDataURL(),
		"text":       "again",
		"message_id": "msg-1",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second share: status %d", res.StatusCode)
	}
	if out["points_awarded"].(float64) != 0 {
		t.Fatalf("second share points = %v, want 0", out["points_awarded"])
	}

	_, points := e.do(t, http.MethodGet, "/v1/points", key, nil)
	if points["points"].(float64) != 200 {
		t.Fatalf("balance = %v, want 200", points["points"])
	}
}

func TestShareTwitterRejectsBadImage(t *testing.T) {
	e := newTestEnv(t)
	key := e.register(t, "alice")
	e.connectTwitter(t, key)

	res, out := e.do(t, http.MethodPost, "/v1/share/twitter", key, map[string]string{
		"image_data": "data:image/jpeg;base64,!!!not-base64!!!",
		"text":       "hello",
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400 (%v)", res.StatusCode, out)
	}
	if out["error"] != "invalid_image_data" {
		t.Fatalf("error = %v, want invalid_image_data", out["error"])
	}
	if e.twitter.uploads != 0 || e.twitter.tweets != 0 {
		t.Fatal("remote endpoints were called for an invalid image")
	}

	res, _ = e.do(t, http.MethodPost, "/v1/share/twitter", key, map[string]string{"text": "no image"})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing image: status %d, want 400", res.StatusCode)
	}
}

func TestShareTwitterWithoutConnection(t *testing.T) {
	e := newTestEnv(t)
	key := e.register(t, "alice")

	res, out := e.do(t, http.MethodPost, "/v1/share/twitter", key, map[string]string{
		"image_data": jpegDataURL(),
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", res.StatusCode)
	}
	if out["error"] != "not_connected" || out["needs_auth"] != true {
		t.Fatalf("body = %v", out)
	}
}

func TestShareTwitterUploadFailure(t *testing.T) {
	e := newTestEnv(t)
	key := e.register(t, "alice")
	e.connectTwitter(t, key)
	e.twitter.uploadStatus = http.StatusServiceUnavailable

	res, out := e.do(t, http.MethodPost, "/v1/share/twitter", key, map[string]string{
		"image_data": jpegDataURL(),
		"message_id": "msg-1",
	})
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("status %d, want 502", res.StatusCode)
	}
	if out["error"] != "upload_failed" {
		t.Fatalf("error = %v, want upload_failed", out["error"])
	}
	if e.twitter.tweets != 0 {
		t.Fatal("tweet endpoint was called after a failed upload")
	}

	_, points := e.do(t, http.MethodGet, "/v1/points", key, nil)
	if points["points"].(float64) != 0 {
		t.Fatalf("balance = %v after failed share, want 0", points["points"])
	}
}

func TestShareTwitterExpiredCredentialDropsConnection(t *testing.T) {
	e := newTestEnv(t)
	key := e.register(t, "alice")
	userID := e.connectTwitter(t, key)
	e.twitter.publishStatus = http.StatusUnauthorized

	res, out := e.do(t, http.MethodPost, "/v1/share/twitter", key, map[string]string{
		"image_data": jpegDataURL(),
		"message_id": "msg-1",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", res.StatusCode)
	}
	if out["error"] != "credential_expired" || out["needs_auth"] != true {
		t.Fatalf("body = %v", out)
	}

	if _, err := e.store.TwitterConnectionByUser(t.Context(), userID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("connection lookup err = %v, want ErrNotFound", err)
	}

	_, points := e.do(t, http.MethodGet, "/v1/points", key, nil)
	if points["points"].(float64) != 0 {
		t.Fatalf("balance = %v after failed publish, want 0", points["points"])
	}
}

func TestShareTwitterPublishFailure(t *testing.T) {
	e := newTestEnv(t)
	key := e.register(t, "alice")
	e.connectTwitter(t, key)
	e.twitter.publishStatus = http.StatusForbidden

	res, out := e.do(t, http.MethodPost, "/v1/share/twitter", key, map[string]string{
		"image_data": jpegDataURL(),
	})
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("status %d, want 502", res.StatusCode)
	}
	if out["error"] != "publish_failed" {
		t.Fatalf("error = %v, want publish_failed", out["error"])
	}
}
