package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agentnet/internal/oauth1"
)

const (
	defaultUploadBaseURL = "https://upload.twitter.com/1.1"
	defaultAPIBaseURL    = "https://api.twitter.com"
)

// ErrCredentialExpired is returned when the remote service rejects the
// stored token pair. The caller's contract is to delete the stored
// connection and prompt re-authorization, never to retry with the same
// credential.
var ErrCredentialExpired = errors.New("twitter: credential invalid or expired")

// UploadError is a non-auth failure of the media upload step.
type UploadError struct {
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("twitter: media upload failed: http %d: %s", e.StatusCode, e.Body)
}

// PublishError is a non-auth failure of the tweet creation step.
type PublishError struct {
	StatusCode int
	Body       string
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("twitter: tweet create failed: http %d: %s", e.StatusCode, e.Body)
}

// AccessCredentials is the outcome of the OAuth 1.0a access-token exchange.
type AccessCredentials struct {
	Token       string
	TokenSecret string
	UserID      string
	ScreenName  string
}

// Client talks to the remote media-upload and tweet endpoints. Base URLs are
// overridable for tests. Every outbound call carries a freshly signed
// Authorization header; nothing is cached or retried here.
type Client struct {
	HTTPClient    *http.Client
	Signer        *oauth1.Signer
	UploadBaseURL string
	APIBaseURL    string
}

func NewClient() *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Signer:     &oauth1.Signer{},
	}
}

func (c *Client) uploadBase() string {
	if c.UploadBaseURL != "" {
		return strings.TrimRight(c.UploadBaseURL, "/")
	}
	return defaultUploadBaseURL
}

func (c *Client) apiBase() string {
	if c.APIBaseURL != "" {
		return strings.TrimRight(c.APIBaseURL, "/")
	}
	return defaultAPIBaseURL
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) signer() *oauth1.Signer {
	if c.Signer != nil {
		return c.Signer
	}
	return &oauth1.Signer{}
}

// UploadMedia pushes raw image bytes to the media endpoint and returns the
// opaque media id. The multipart body is not part of the signed parameter
// set; only the oauth_* parameters are signed.
func (c *Client) UploadMedia(ctx context.Context, cred oauth1.Credentials, image []byte) (string, error) {
	endpoint := c.uploadBase() + "/media/upload.json"

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("media", "media")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(image); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	header, err := c.signer().AuthorizationHeader(http.MethodPost, endpoint, nil, cred)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", header)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	status, respBody, err := c.do(req)
	if err != nil {
		return "", err
	}
	if status == http.StatusUnauthorized {
		return "", ErrCredentialExpired
	}
	if status < 200 || status >= 300 {
		return "", &UploadError{StatusCode: status, Body: string(respBody)}
	}

	var out struct {
		MediaIDString string `json:"media_id_string"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("twitter: decode upload response: %w", err)
	}
	if out.MediaIDString == "" {
		return "", &UploadError{StatusCode: status, Body: "missing media_id_string"}
	}
	return out.MediaIDString, nil
}

// CreateTweet posts text with one previously uploaded media handle attached.
func (c *Client) CreateTweet(ctx context.Context, cred oauth1.Credentials, text, mediaID string) (string, error) {
	endpoint := c.apiBase() + "/2/tweets"

	payload, err := json.Marshal(map[string]any{
		"text":  text,
		"media": map[string]any{"media_ids": []string{mediaID}},
	})
	if err != nil {
		return "", err
	}

	header, err := c.signer().AuthorizationHeader(http.MethodPost, endpoint, nil, cred)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", header)
	req.Header.Set("Content-Type", "application/json")

	status, respBody, err := c.do(req)
	if err != nil {
		return "", err
	}
	if status == http.StatusUnauthorized || looksLikeExpiredToken(respBody) {
		return "", ErrCredentialExpired
	}
	if status < 200 || status >= 300 {
		return "", &PublishError{StatusCode: status, Body: string(respBody)}
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("twitter: decode tweet response: %w", err)
	}
	if out.Data.ID == "" {
		return "", &PublishError{StatusCode: status, Body: "missing tweet id"}
	}
	return out.Data.ID, nil
}

// VerifyCredentials checks that a stored token pair is still accepted.
func (c *Client) VerifyCredentials(ctx context.Context, cred oauth1.Credentials) error {
	endpoint := c.apiBase() + "/1.1/account/verify_credentials.json"

	header, err := c.signer().AuthorizationHeader(http.MethodGet, endpoint, nil, cred)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", header)

	status, body, err := c.do(req)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		return ErrCredentialExpired
	}
	if status < 200 || status >= 300 {
		return &PublishError{StatusCode: status, Body: string(body)}
	}
	return nil
}

// RequestToken runs the first leg of the OAuth 1.0a dance. The token secret
// is empty at this phase, so the signing key ends with a bare "&".
func (c *Client) RequestToken(ctx context.Context, consumer oauth1.Credentials, callbackURL string) (token, tokenSecret string, err error) {
	endpoint := c.apiBase() + "/oauth/request_token"

	header, err := c.signer().AuthorizationHeader(http.MethodPost, endpoint,
		map[string]string{"oauth_callback": callbackURL}, consumer)
	if err != nil {
		return "", "", err
	}

	values, err := c.postForm(ctx, endpoint, header)
	if err != nil {
		return "", "", err
	}
	token = values.Get("oauth_token")
	tokenSecret = values.Get("oauth_token_secret")
	if token == "" {
		return "", "", errors.New("twitter: request token response missing oauth_token")
	}
	return token, tokenSecret, nil
}

// AccessToken exchanges an authorized request token + verifier for the
// user's long-lived token pair.
func (c *Client) AccessToken(ctx context.Context, consumer oauth1.Credentials, requestToken, requestTokenSecret, verifier string) (AccessCredentials, error) {
	endpoint := c.apiBase() + "/oauth/access_token"

	cred := consumer
	cred.Token = requestToken
	cred.TokenSecret = requestTokenSecret
	header, err := c.signer().AuthorizationHeader(http.MethodPost, endpoint,
		map[string]string{"oauth_verifier": verifier}, cred)
	if err != nil {
		return AccessCredentials{}, err
	}

	values, err := c.postForm(ctx, endpoint, header)
	if err != nil {
		return AccessCredentials{}, err
	}
	out := AccessCredentials{
		Token:       values.Get("oauth_token"),
		TokenSecret: values.Get("oauth_token_secret"),
		UserID:      values.Get("user_id"),
		ScreenName:  values.Get("screen_name"),
	}
	if out.Token == "" || out.TokenSecret == "" {
		return AccessCredentials{}, errors.New("twitter: access token response incomplete")
	}
	return out, nil
}

// AuthorizeURL is where the user's browser goes between the two legs.
func (c *Client) AuthorizeURL(requestToken string) string {
	return c.apiBase() + "/oauth/authorize?oauth_token=" + url.QueryEscape(requestToken)
}

func (c *Client) postForm(ctx context.Context, endpoint, authHeader string) (url.Values, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", authHeader)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("twitter: oauth http %d: %s", status, string(body))
	}
	return url.ParseQuery(string(body))
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	res, err := c.httpClient().Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return 0, nil, err
	}
	return res.StatusCode, body, nil
}

func looksLikeExpiredToken(body []byte) bool {
	s := strings.ToLower(string(body))
	return strings.Contains(s, "invalid or expired token")
}
