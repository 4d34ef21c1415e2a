package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"agentnet/internal/oauth1"
	"agentnet/internal/pending"
	"agentnet/internal/secrets"
	"agentnet/internal/store"
	"agentnet/internal/twitter"

	"github.com/google/uuid"
)

func requestScheme(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); v != "" {
		parts := strings.Split(v, ",")
		if len(parts) > 0 && strings.TrimSpace(parts[0]) != "" {
			return strings.TrimSpace(parts[0])
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func requestHost(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-Forwarded-Host")); v != "" {
		parts := strings.Split(v, ",")
		if len(parts) > 0 && strings.TrimSpace(parts[0]) != "" {
			return strings.TrimSpace(parts[0])
		}
	}
	return strings.TrimSpace(r.Host)
}

func (s server) twitterCallbackURL(r *http.Request) string {
	if base := strings.TrimRight(strings.TrimSpace(s.publicBaseURL), "/"); base != "" {
		return base + "/v1/auth/twitter/callback"
	}
	host := requestHost(r)
	if host == "" {
		return ""
	}
	return requestScheme(r) + "://" + host + "/v1/auth/twitter/callback"
}

func (s server) twitterConfigured() bool {
	return strings.TrimSpace(s.consumer.ConsumerKey) != "" &&
		strings.TrimSpace(s.consumer.ConsumerSecret) != ""
}

func (s server) handleTwitterStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !s.twitterConfigured() {
		writeError(w, http.StatusServiceUnavailable, "twitter not configured")
		return
	}

	callbackURL := s.twitterCallbackURL(r)
	if callbackURL == "" {
		writeError(w, http.StatusBadRequest, "cannot derive callback url")
		return
	}

	token, tokenSecret, err := s.tw.RequestToken(r.Context(), s.consumer, callbackURL)
	if err != nil {
		logError(r.Context(), "twitter request token failed", err)
		writeError(w, http.StatusBadGateway, "request token failed")
		return
	}

	err = s.pend.PutRequestToken(r.Context(), token, pending.RequestToken{
		Secret: tokenSecret,
		UserID: userID.String(),
	})
	if err != nil {
		logError(r.Context(), "park request token failed", err)
		writeError(w, http.StatusInternalServerError, "request token failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"authorize_url": s.tw.AuthorizeURL(token),
	})
}

func (s server) handleTwitterCallback(w http.ResponseWriter, r *http.Request) {
	if denied := strings.TrimSpace(r.URL.Query().Get("denied")); denied != "" {
		// The user cancelled on the authorize page; drop the parked state.
		if _, err := s.pend.TakeRequestToken(r.Context(), denied); err != nil && !errors.Is(err, pending.ErrNotFound) {
			logError(r.Context(), "drop denied request token failed", err)
		}
		writeConnectResult(w, http.StatusOK, connectResult{Connected: false, Error: "denied"})
		return
	}

	token := strings.TrimSpace(r.URL.Query().Get("oauth_token"))
	verifier := strings.TrimSpace(r.URL.Query().Get("oauth_verifier"))
	if token == "" || verifier == "" {
		writeConnectResult(w, http.StatusBadRequest, connectResult{Connected: false, Error: "missing parameters"})
		return
	}

	rt, err := s.pend.TakeRequestToken(r.Context(), token)
	if errors.Is(err, pending.ErrNotFound) {
		writeConnectResult(w, http.StatusBadRequest, connectResult{Connected: false, Error: "session expired"})
		return
	}
	if err != nil {
		logError(r.Context(), "load request token failed", err)
		writeConnectResult(w, http.StatusInternalServerError, connectResult{Connected: false, Error: "internal error"})
		return
	}
	userID, err := uuid.Parse(rt.UserID)
	if err != nil {
		logError(r.Context(), "parse parked user id failed", err)
		writeConnectResult(w, http.StatusInternalServerError, connectResult{Connected: false, Error: "internal error"})
		return
	}

	cred, err := s.tw.AccessToken(r.Context(), s.consumer, token, rt.Secret, verifier)
	if err != nil {
		logError(r.Context(), "twitter access token exchange failed", err)
		writeConnectResult(w, http.StatusBadGateway, connectResult{Connected: false, Error: "token exchange failed"})
		return
	}

	sealed, err := secrets.Seal(s.encryptionKey, []byte(cred.TokenSecret))
	if err != nil {
		logError(r.Context(), "seal token secret failed", err)
		writeConnectResult(w, http.StatusInternalServerError, connectResult{Connected: false, Error: "internal error"})
		return
	}

	err = s.store.UpsertTwitterConnection(r.Context(), store.TwitterConnection{
		UserID:            userID,
		TwitterUserID:     cred.UserID,
		ScreenName:        cred.ScreenName,
		AccessToken:       cred.Token,
		AccessTokenSecret: sealed,
	})
	if err != nil {
		logError(r.Context(), "store twitter connection failed", err)
		writeConnectResult(w, http.StatusInternalServerError, connectResult{Connected: false, Error: "internal error"})
		return
	}

	writeConnectResult(w, http.StatusOK, connectResult{Connected: true, ScreenName: cred.ScreenName})
}

func (s server) handleTwitterValidate(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := s.store.TwitterConnectionByUser(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"connected": false, "needs_auth": true})
		return
	}
	if err != nil {
		logError(r.Context(), "load twitter connection failed", err)
		writeError(w, http.StatusInternalServerError, "validate failed")
		return
	}

	cred, err := s.twitterCredential(conn)
	if err != nil {
		logError(r.Context(), "unseal token secret failed", err)
		writeError(w, http.StatusInternalServerError, "validate failed")
		return
	}

	if err := s.tw.VerifyCredentials(r.Context(), cred); err != nil {
		if errors.Is(err, twitter.ErrCredentialExpired) {
			// A dead token is useless; drop it so the client re-runs the
			// connect flow instead of retrying forever.
			s.dropConnection(r.Context(), userID)
			writeJSON(w, http.StatusOK, map[string]any{"connected": false, "needs_auth": true})
			return
		}
		logError(r.Context(), "verify credentials failed", err)
		writeError(w, http.StatusBadGateway, "validate failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connected":   true,
		"screen_name": conn.ScreenName,
	})
}

func (s server) handleTwitterDisconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.store.DeleteTwitterConnection(r.Context(), userID); err != nil && !errors.Is(err, store.ErrNotFound) {
		logError(r.Context(), "delete twitter connection failed", err)
		writeError(w, http.StatusInternalServerError, "disconnect failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// twitterCredential unseals the stored token pair into signing credentials.
func (s server) twitterCredential(conn store.TwitterConnection) (oauth1.Credentials, error) {
	tokenSecret, err := secrets.Open(s.encryptionKey, conn.AccessTokenSecret)
	if err != nil {
		return oauth1.Credentials{}, err
	}
	return oauth1.Credentials{
		ConsumerKey:    s.consumer.ConsumerKey,
		ConsumerSecret: s.consumer.ConsumerSecret,
		Token:          conn.AccessToken,
		TokenSecret:    string(tokenSecret),
	}, nil
}

func (s server) dropConnection(ctx context.Context, userID uuid.UUID) {
	if err := s.store.DeleteTwitterConnection(ctx, userID); err != nil && !errors.Is(err, store.ErrNotFound) {
		logError(ctx, "delete twitter connection failed", err)
	}
}

// connectResult is both the postMessage payload for the opener window and
// the visible status on the callback page.
type connectResult struct {
	Connected  bool   `json:"connected"`
	ScreenName string `json:"screen_name,omitempty"`
	Error      string `json:"error,omitempty"`
}

func writeConnectResult(w http.ResponseWriter, status int, res connectResult) {
	payload, err := json.Marshal(map[string]any{
		"type":   "twitter-auth",
		"result": res,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	title := "连接成功"
	message := "X (Twitter) 账号已连接，可以关闭此窗口。"
	if !res.Connected {
		title = "连接失败"
		message = "X (Twitter) 账号连接失败，请关闭此窗口后重试。"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	body := `<!doctype html>
<html lang="zh-CN">
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>` + htmlEscape(title) + `</title>
    <style>
      body{font-family:ui-sans-serif,system-ui,-apple-system,"Segoe UI",Roboto,Helvetica,Arial;margin:0;background:#f7f8fc;color:#0f172a}
      .wrap{max-width:640px;margin:0 auto;padding:24px}
      .card{background:#fff;border:1px solid rgba(15,23,42,.12);border-radius:16px;padding:16px;box-shadow:0 6px 18px rgba(2,6,23,.08)}
      .title{font-size:20px;font-weight:800;margin:0 0 8px}
      .msg{white-space:pre-wrap;line-height:1.5;color:#334155}
    </style>
  </head>
  <body>
    <div class="wrap">
      <div class="card">
        <div class="title">` + htmlEscape(title) + `</div>
        <div class="msg">` + htmlEscape(message) + `</div>
      </div>
    </div>
    <script>
      (function () {
        if (window.opener) {
          window.opener.postMessage(` + string(payload) + `, "*");
          setTimeout(function () { window.close(); }, 1500);
        }
      })();
    </script>
  </body>
</html>`
	if _, err := w.Write([]byte(body)); err != nil {
		logError(context.Background(), "write connect result page failed", err)
	}
}

func htmlEscape(s string) string {
	repl := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#39;",
	)
	return repl.Replace(s)
}
