package httpapi

import (
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"agentnet/internal/secrets"
	"agentnet/internal/store"
	"agentnet/internal/wallet"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/google/uuid"
)

func ethSign(t *testing.T, key *secp256k1.PrivateKey, message string) string {
	t.Helper()
	compact := ecdsa.SignCompact(key, wallet.PersonalSignHash(message), false)
	out := make([]byte, 65)
	copy(out, compact[1:])
	out[64] = compact[0]
	return "0x" + hex.EncodeToString(out)
}

func TestWalletChallengeVerifyFlow(t *testing.T) {
	e := newTestEnv(t)

	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := wallet.AddressFromPubKey(key.PubKey())

	res, out := e.do(t, http.MethodPost, "/v1/auth/wallet/challenge", "", map[string]string{"address": addr})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("challenge: status %d (%v)", res.StatusCode, out)
	}
	message, _ := out["message"].(string)
	if message == "" {
		t.Fatal("challenge: missing message")
	}

	res, out = e.do(t, http.MethodPost, "/v1/auth/wallet/verify", "", map[string]string{
		"address":   addr,
		"signature": ethSign(t, key, message),
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("verify: status %d (%v)", res.StatusCode, out)
	}
	apiKey, _ := out["api_key"].(string)
	if apiKey == "" {
		t.Fatal("verify: missing api_key")
	}
	if out["new"] != true {
		t.Fatalf("new = %v, want true", out["new"])
	}

	// The issued key works against authenticated endpoints.
	res, _ = e.do(t, http.MethodGet, "/v1/points", apiKey, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("points with wallet key: status %d", res.StatusCode)
	}

	// Challenges are single-use.
	res, _ = e.do(t, http.MethodPost, "/v1/auth/wallet/verify", "", map[string]string{
		"address":   addr,
		"signature": ethSign(t, key, message),
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("replayed verify: status %d, want 400", res.StatusCode)
	}

	// A second full round for the same address is a login, not a signup.
	_, out = e.do(t, http.MethodPost, "/v1/auth/wallet/challenge", "", map[string]string{"address": addr})
	message2, _ := out["message"].(string)
	res, out = e.do(t, http.MethodPost, "/v1/auth/wallet/verify", "", map[string]string{
		"address":   addr,
		"signature": ethSign(t, key, message2),
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second verify: status %d", res.StatusCode)
	}
	if out["new"] != false {
		t.Fatalf("second verify: new = %v, want false", out["new"])
	}
}

func TestWalletVerifyRejectsWrongSigner(t *testing.T) {
	e := newTestEnv(t)

	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	otherKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := wallet.AddressFromPubKey(key.PubKey())

	_, out := e.do(t, http.MethodPost, "/v1/auth/wallet/challenge", "", map[string]string{"address": addr})
	message, _ := out["message"].(string)

	res, _ := e.do(t, http.MethodPost, "/v1/auth/wallet/verify", "", map[string]string{
		"address":   addr,
		"signature": ethSign(t, otherKey, message),
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong signer: status %d, want 401", res.StatusCode)
	}
}

func TestWalletChallengeRejectsBadAddress(t *testing.T) {
	e := newTestEnv(t)
	res, _ := e.do(t, http.MethodPost, "/v1/auth/wallet/challenge", "", map[string]string{"address": "not-an-address"})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", res.StatusCode)
	}
}

func (e *testEnv) getHTML(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	res, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, string(body)
}

func TestTwitterConnectFlow(t *testing.T) {
	e := newTestEnv(t)
	key := e.register(t, "alice")

	res, out := e.do(t, http.MethodGet, "/v1/auth/twitter/start", key, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start: status %d (%v)", res.StatusCode, out)
	}
	authorizeURL, _ := out["authorize_url"].(string)
	if !strings.Contains(authorizeURL, "oauth_token=req-tok") {
		t.Fatalf("authorize_url = %q", authorizeURL)
	}

	res, page := e.getHTML(t, "/v1/auth/twitter/callback?oauth_token=req-tok&oauth_verifier=ver-1")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("callback: status %d", res.StatusCode)
	}
	if !strings.Contains(page, "twitter-auth") || !strings.Contains(page, `"connected":true`) {
		t.Fatalf("callback page missing postMessage payload: %s", page)
	}

	_, me := e.do(t, http.MethodGet, "/v1/me", key, nil)
	userID := uuid.MustParse(me["user_id"].(string))

	conn, err := e.store.TwitterConnectionByUser(t.Context(), userID)
	if err != nil {
		t.Fatalf("connection lookup: %v", err)
	}
	if conn.AccessToken != "acc-tok" || conn.ScreenName != "tester" {
		t.Fatalf("connection = %+v", conn)
	}
	secret, err := secrets.Open(testEncryptionKey, conn.AccessTokenSecret)
	if err != nil {
		t.Fatalf("unseal: %v", err)
	}
	if string(secret) != "acc-sec" {
		t.Fatalf("token secret = %q, want acc-sec", secret)
	}

	res, out = e.do(t, http.MethodGet, "/v1/auth/twitter/validate", key, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate: status %d", res.StatusCode)
	}
	if out["connected"] != true || out["screen_name"] != "tester" {
		t.Fatalf("validate = %v", out)
	}

	res, _ = e.do(t, http.MethodDelete, "/v1/auth/twitter", key, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("disconnect: status %d, want 204", res.StatusCode)
	}
	if _, err := e.store.TwitterConnectionByUser(t.Context(), userID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("connection after disconnect: err = %v, want ErrNotFound", err)
	}
}

func TestTwitterCallbackDenied(t *testing.T) {
	e := newTestEnv(t)
	key := e.register(t, "alice")

	if _, out := e.do(t, http.MethodGet, "/v1/auth/twitter/start", key, nil); out["authorize_url"] == nil {
		t.Fatal("start did not return authorize_url")
	}

	res, page := e.getHTML(t, "/v1/auth/twitter/callback?denied=req-tok")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("denied callback: status %d", res.StatusCode)
	}
	if !strings.Contains(page, `"connected":false`) || !strings.Contains(page, "denied") {
		t.Fatalf("denied page = %s", page)
	}

	// The parked handshake state is gone; a late legitimate callback fails.
	res, page = e.getHTML(t, "/v1/auth/twitter/callback?oauth_token=req-tok&oauth_verifier=ver-1")
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("stale callback: status %d, want 400", res.StatusCode)
	}
	if !strings.Contains(page, "session expired") {
		t.Fatalf("stale page = %s", page)
	}
}

func TestTwitterCallbackUnknownToken(t *testing.T) {
	e := newTestEnv(t)
	res, _ := e.getHTML(t, "/v1/auth/twitter/callback?oauth_token=never-issued&oauth_verifier=v")
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", res.StatusCode)
	}
}

func TestTwitterValidateWithoutConnection(t *testing.T) {
	e := newTestEnv(t)
	key := e.register(t, "alice")

	res, out := e.do(t, http.MethodGet, "/v1/auth/twitter/validate", key, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate: status %d", res.StatusCode)
	}
	if out["connected"] != false || out["needs_auth"] != true {
		t.Fatalf("validate = %v", out)
	}
}
