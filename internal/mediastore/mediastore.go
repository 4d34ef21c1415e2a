package mediastore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/google/uuid"
)

// Store archives the images users share outward, keyed under
// shares/<user>/<date>/<id>. Archival is best-effort from the publisher's
// point of view; the store itself reports real errors.
type Store interface {
	PutObject(ctx context.Context, key, contentType string, body []byte) error
}

type Config struct {
	Provider        string // "aliyun" | "local" | ""
	Endpoint        string
	Bucket          string
	BasePrefix      string
	AccessKeyID     string
	AccessKeySecret string
	LocalDir        string
}

func New(cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "local":
		if strings.TrimSpace(cfg.LocalDir) == "" {
			return nil, errors.New("AGENTNET_MEDIA_LOCAL_DIR is required when AGENTNET_MEDIA_PROVIDER=local")
		}
		return localStore{root: cfg.LocalDir, basePrefix: cfg.BasePrefix}, nil
	case "aliyun":
		if cfg.Endpoint == "" || cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" || cfg.Bucket == "" {
			return nil, errors.New("missing media store config for aliyun provider")
		}
		client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
		if err != nil {
			return nil, err
		}
		bucket, err := client.Bucket(cfg.Bucket)
		if err != nil {
			return nil, err
		}
		return aliyunStore{bucket: bucket, basePrefix: cfg.BasePrefix}, nil
	default:
		return nil, errors.New("unsupported media provider (set AGENTNET_MEDIA_PROVIDER=aliyun|local)")
	}
}

// ShareKey builds the archive key for one shared image.
func ShareKey(userID uuid.UUID, t time.Time, ext string) string {
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("shares/%s/%s/%s.%s", userID, t.UTC().Format("2006-01-02"), uuid.New(), ext)
}

func joinKey(basePrefix, key string) string {
	basePrefix = strings.Trim(strings.TrimSpace(basePrefix), "/")
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if basePrefix == "" {
		return key
	}
	if key == "" {
		return basePrefix
	}
	return basePrefix + "/" + key
}

type localStore struct {
	root       string
	basePrefix string
}

func (s localStore) PutObject(ctx context.Context, key, contentType string, body []byte) error {
	_ = ctx
	_ = contentType
	p := filepath.Join(s.root, filepath.FromSlash(joinKey(s.basePrefix, key)))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	// Best-effort atomic write.
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

type aliyunStore struct {
	bucket     *oss.Bucket
	basePrefix string
}

func (s aliyunStore) PutObject(ctx context.Context, key, contentType string, body []byte) error {
	_ = ctx // the oss sdk does not take a context
	opts := []oss.Option{}
	if contentType != "" {
		opts = append(opts, oss.ContentType(contentType))
	}
	return s.bucket.PutObject(joinKey(s.basePrefix, key), bytes.NewReader(body), opts...)
}
