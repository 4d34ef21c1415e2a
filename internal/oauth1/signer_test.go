package oauth1

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func fixedSigner(nonce string, ts int64) *Signer {
	return &Signer{
		Nonce: func() (string, error) { return nonce, nil },
		Now:   func() time.Time { return time.Unix(ts, 0) },
	}
}

func headerParams(t *testing.T, header string) map[string]string {
	t.Helper()
	if !strings.HasPrefix(header, "OAuth ") {
		t.Fatalf("header missing OAuth prefix: %q", header)
	}
	out := map[string]string{}
	for _, part := range strings.Split(strings.TrimPrefix(header, "OAuth "), ", ") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			t.Fatalf("malformed header part %q", part)
		}
		out[kv[0]] = strings.Trim(kv[1], `"`)
	}
	return out
}

func TestAuthorizationHeaderKnownVector(t *testing.T) {
	// Reference signature computed with an independent implementation of
	// RFC 5849 over the same inputs.
	s := fixedSigner("abc123", 1700000000)
	cred := Credentials{ConsumerKey: "K", ConsumerSecret: "S", Token: "T", TokenSecret: "TS"}

	header, err := s.AuthorizationHeader("POST", "https://upload.example/media.json", nil, cred)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	got := headerParams(t, header)

	want := map[string]string{
		"oauth_consumer_key":     "K",
		"oauth_nonce":            "abc123",
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        "1700000000",
		"oauth_token":            "T",
		"oauth_version":          "1.0",
		"oauth_signature":        PercentEncode("OziR722xu4XgaQOE7OdKPcFIBlU="),
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("header param %s = %q, want %q", k, got[k], v)
		}
	}
}

func TestAuthorizationHeaderRequestTokenPhase(t *testing.T) {
	// Empty token secret (request-token phase); oauth_callback joins the
	// signed set.
	s := fixedSigner("n0n0n0", 1700000001)
	cred := Credentials{ConsumerKey: "K", ConsumerSecret: "S"}

	header, err := s.AuthorizationHeader("POST", "https://api.twitter.com/oauth/request_token",
		map[string]string{"oauth_callback": "https://app.example/api/auth/twitter/callback"}, cred)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	got := headerParams(t, header)

	if want := PercentEncode("uCuNDXghAl/GJe8HCAPJp75ooQw="); got["oauth_signature"] != want {
		t.Errorf("signature = %q, want %q", got["oauth_signature"], want)
	}
	if _, ok := got["oauth_token"]; ok {
		t.Error("oauth_token must be absent when credential has no token")
	}
	if got["oauth_callback"] == "" {
		t.Error("oauth_callback missing from header")
	}
}

func TestAuthorizationHeaderFreshNonceAndTimestamp(t *testing.T) {
	var s Signer
	cred := Credentials{ConsumerKey: "K", ConsumerSecret: "S", Token: "T", TokenSecret: "TS"}

	h1, err := s.AuthorizationHeader("POST", "https://upload.example/media.json", nil, cred)
	if err != nil {
		t.Fatalf("first sign failed: %v", err)
	}
	h2, err := s.AuthorizationHeader("POST", "https://upload.example/media.json", nil, cred)
	if err != nil {
		t.Fatalf("second sign failed: %v", err)
	}

	p1, p2 := headerParams(t, h1), headerParams(t, h2)
	if p1["oauth_nonce"] == p2["oauth_nonce"] {
		t.Error("nonce reused across calls")
	}
	if p1["oauth_signature"] == p2["oauth_signature"] {
		t.Error("identical signatures for two calls with identical inputs")
	}
}

func TestAuthorizationHeaderDiscardsPriorSignature(t *testing.T) {
	s := fixedSigner("abc123", 1700000000)
	cred := Credentials{ConsumerKey: "K", ConsumerSecret: "S", Token: "T", TokenSecret: "TS"}

	clean, err := s.AuthorizationHeader("POST", "https://upload.example/media.json", nil, cred)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	poisoned, err := s.AuthorizationHeader("POST", "https://upload.example/media.json",
		map[string]string{"oauth_signature": "stale"}, cred)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if clean != poisoned {
		t.Error("pre-existing oauth_signature leaked into the signed set")
	}
}

func TestAuthorizationHeaderInvalidArguments(t *testing.T) {
	var s Signer
	cred := Credentials{ConsumerKey: "K", ConsumerSecret: "S"}

	if _, err := s.AuthorizationHeader("", "https://upload.example/media.json", nil, cred); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty method: err = %v, want ErrInvalidArgument", err)
	}
	if _, err := s.AuthorizationHeader("POST", "", nil, cred); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty url: err = %v, want ErrInvalidArgument", err)
	}
}

func TestPercentEncode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abcABC123", "abcABC123"},
		{"-._~", "-._~"},
		{" ", "%20"},
		{"+", "%2B"},
		{"*", "%2A"},
		{"!'()", "%21%27%28%29"},
		{"a=b&c", "a%3Db%26c"},
		{"日", "%E6%97%A5"},
		{"Ladies + Gentlemen", "Ladies%20%2B%20Gentlemen"},
	}
	for _, tt := range tests {
		if got := PercentEncode(tt.in); got != tt.want {
			t.Errorf("PercentEncode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
