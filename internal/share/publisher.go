package share

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"agentnet/internal/ledger"
	"agentnet/internal/mediastore"
	"agentnet/internal/oauth1"
	"agentnet/internal/store"

	"github.com/google/uuid"
)

// ErrInvalidImageData reports undecodable input (bad base64 or an
// unrecognized image header). It is raised before any remote call is spent.
var ErrInvalidImageData = errors.New("share: invalid image data")

// Stage names the step a publish attempt was in when it failed.
type Stage string

const (
	StageUploading  Stage = "uploading"
	StagePublishing Stage = "publishing"
	StageCrediting  Stage = "crediting"
)

// StageError wraps a failure with the publish stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("share: %s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

type RemoteAPI interface {
	UploadMedia(ctx context.Context, cred oauth1.Credentials, image []byte) (string, error)
	CreateTweet(ctx context.Context, cred oauth1.Credentials, text, mediaID string) (string, error)
}

type Recorder interface {
	InsertShareRecord(ctx context.Context, rec store.ShareRecord) error
}

type Request struct {
	UserID     uuid.UUID
	ImageData  string // raw base64, optionally a data: URL
	Text       string
	MessageID  string // reward reference; empty means not reward-eligible
	Credential oauth1.Credentials
}

type Result struct {
	TweetID       string `json:"tweet_id"`
	TweetURL      string `json:"tweet_url"`
	PointsAwarded int64  `json:"points_awarded"`
	ArchivePath   string `json:"archive_path,omitempty"`
}

// Publisher runs the two-call publish sequence: upload the image, create the
// post, then credit the share bonus. Each remote call is freshly signed by
// the client; nothing is retried here — re-invocation is the caller's
// decision and is safe because crediting is idempotent per day.
type Publisher struct {
	API         RemoteAPI
	Ledger      ledger.Ledger
	Media       mediastore.Store // optional archive; nil disables
	Recorder    Recorder         // optional share history; nil disables
	SharePoints int64
	Logf        func(format string, args ...any)
}

func (p *Publisher) logf(format string, args ...any) {
	if p.Logf != nil {
		p.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// PublishImageWithText drives Uploading -> Publishing -> Crediting -> Done.
// An upload or publish failure is terminal for the attempt: later steps are
// skipped, and a credit failure after a successful publish degrades to
// partial success (the post is the irreversible user-visible side effect).
func (p *Publisher) PublishImageWithText(ctx context.Context, req Request) (Result, error) {
	image, ext, err := decodeImage(req.ImageData)
	if err != nil {
		return Result{}, err
	}

	archivePath := p.archive(ctx, req.UserID, image, ext)

	mediaID, err := p.API.UploadMedia(ctx, req.Credential, image)
	if err != nil {
		return Result{}, &StageError{Stage: StageUploading, Err: err}
	}

	tweetID, err := p.API.CreateTweet(ctx, req.Credential, req.Text, mediaID)
	if err != nil {
		return Result{}, &StageError{Stage: StagePublishing, Err: err}
	}

	res := Result{
		TweetID:     tweetID,
		TweetURL:    "https://twitter.com/user/status/" + tweetID,
		ArchivePath: archivePath,
	}

	if p.Recorder != nil {
		if err := p.Recorder.InsertShareRecord(ctx, store.ShareRecord{
			UserID:    req.UserID,
			MessageID: req.MessageID,
			TweetID:   tweetID,
			ImagePath: archivePath,
		}); err != nil {
			p.logf("share: record insert failed: %v", err)
		}
	}

	if req.MessageID == "" || p.Ledger == nil {
		return res, nil
	}

	credit, err := p.Ledger.CreditOnce(ctx, req.UserID, ledger.ActionImageShare, p.sharePoints(), req.MessageID)
	if err != nil {
		// The post is out; crediting is best-effort.
		p.logf("share: credit failed for user %s: %v", req.UserID, err)
		return res, nil
	}
	if credit.Awarded {
		res.PointsAwarded = credit.Points
	}
	return res, nil
}

func (p *Publisher) sharePoints() int64 {
	if p.SharePoints > 0 {
		return p.SharePoints
	}
	return 200
}

func (p *Publisher) archive(ctx context.Context, userID uuid.UUID, image []byte, ext string) string {
	if p.Media == nil {
		return ""
	}
	key := mediastore.ShareKey(userID, time.Now(), ext)
	if err := p.Media.PutObject(ctx, key, contentTypeForExt(ext), image); err != nil {
		p.logf("share: image archive failed: %v", err)
		return ""
	}
	return key
}

// decodeImage accepts either a bare base64 payload or a data: URL and
// verifies the decoded bytes carry a known image signature.
func decodeImage(data string) (body []byte, ext string, err error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, "", fmt.Errorf("%w: empty payload", ErrInvalidImageData)
	}
	if strings.HasPrefix(data, "data:") {
		idx := strings.Index(data, ",")
		if idx < 0 {
			return nil, "", fmt.Errorf("%w: malformed data url", ErrInvalidImageData)
		}
		data = data[idx+1:]
	}

	body, err = base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImageData, err)
	}

	ext = sniffImage(body)
	if ext == "" {
		return nil, "", fmt.Errorf("%w: unrecognized image header", ErrInvalidImageData)
	}
	return body, ext, nil
}

func contentTypeForExt(ext string) string {
	switch ext {
	case "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	}
	return "application/octet-stream"
}

func sniffImage(b []byte) string {
	switch {
	case len(b) >= 3 && b[0] == 0xFF && b[1] == 0xD8 && b[2] == 0xFF:
		return "jpg"
	case len(b) >= 8 && bytes.Equal(b[:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return "png"
	case len(b) >= 6 && (bytes.Equal(b[:6], []byte("GIF87a")) || bytes.Equal(b[:6], []byte("GIF89a"))):
		return "gif"
	case len(b) >= 12 && bytes.Equal(b[:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WEBP")):
		return "webp"
	}
	return ""
}
