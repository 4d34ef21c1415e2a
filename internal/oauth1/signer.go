package oauth1

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidArgument reports a caller contract violation (empty method or
// URL). Signing itself is pure computation and cannot fail.
var ErrInvalidArgument = errors.New("oauth1: invalid argument")

type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	Token          string
	TokenSecret    string
}

// Signer builds OAuth 1.0a Authorization header values. Nonce and Now are
// overridable for deterministic tests; both default to crypto/rand and
// time.Now. The zero value is ready to use.
type Signer struct {
	Nonce func() (string, error)
	Now   func() time.Time
}

func (s *Signer) nonce() (string, error) {
	if s.Nonce != nil {
		return s.Nonce()
	}
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

func (s *Signer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// AuthorizationHeader signs one outbound request and returns the literal
// value for the Authorization header. params carries any additional oauth_*
// parameters to include in the signed set (oauth_callback, oauth_verifier);
// request body parameters are intentionally absent: multipart media uploads
// sign only the oauth parameter set. A fresh nonce and timestamp are
// generated on every call, and any oauth_signature present in params is
// discarded before signing.
func (s *Signer) AuthorizationHeader(method, rawURL string, params map[string]string, cred Credentials) (string, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	rawURL = strings.TrimSpace(rawURL)
	if method == "" || rawURL == "" {
		return "", fmt.Errorf("%w: empty method or url", ErrInvalidArgument)
	}

	nonce, err := s.nonce()
	if err != nil {
		return "", err
	}

	oauth := map[string]string{
		"oauth_consumer_key":     cred.ConsumerKey,
		"oauth_nonce":            nonce,
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(s.now().Unix(), 10),
		"oauth_version":          "1.0",
	}
	if cred.Token != "" {
		oauth["oauth_token"] = cred.Token
	}
	for k, v := range params {
		if k == "oauth_signature" {
			continue
		}
		oauth[k] = v
	}

	oauth["oauth_signature"] = sign(method, rawURL, oauth, cred.ConsumerSecret, cred.TokenSecret)

	names := make([]string, 0, len(oauth))
	for k := range oauth {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("OAuth ")
	for i, k := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(PercentEncode(oauth[k]))
		b.WriteString(`"`)
	}
	return b.String(), nil
}

// sign computes the HMAC-SHA1 signature over the canonical base string.
func sign(method, rawURL string, params map[string]string, consumerSecret, tokenSecret string) string {
	names := make([]string, 0, len(params))
	for k := range params {
		if k == "oauth_signature" {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, k := range names {
		pairs = append(pairs, PercentEncode(k)+"="+PercentEncode(params[k]))
	}
	paramString := strings.Join(pairs, "&")

	base := method + "&" + PercentEncode(rawURL) + "&" + PercentEncode(paramString)
	// Token secret is empty during the request-token phase; the trailing
	// "&" is still required.
	key := PercentEncode(consumerSecret) + "&" + PercentEncode(tokenSecret)

	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

const upperhex = "0123456789ABCDEF"

// PercentEncode implements RFC 5849 §3.6 encoding: everything except
// unreserved characters is escaped, including characters that
// url.QueryEscape would pass through or encode differently.
func PercentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0xf])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	}
	return false
}
