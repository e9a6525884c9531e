// Package archive stores finished run transcripts in object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"livecode/internal/common/storage"
	"livecode/internal/execution/model"
	appErr "livecode/pkg/errors"
	"livecode/pkg/utils/logger"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const contentType = "application/zstd"

// Config controls transcript archiving.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
}

// Archive writes transcripts as zstd-compressed JSON under
// <prefix>/YYYY/MM/DD/<sessionID>.json.zst.
type Archive struct {
	store  storage.ObjectStorage
	bucket string
	prefix string
	enc    *zstd.Encoder
}

// New builds an archive on store.
func New(store storage.ObjectStorage, cfg Config) (*Archive, error) {
	if store == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "runs"
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	return &Archive{
		store:  store,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		enc:    enc,
	}, nil
}

// EnsureBucket creates the archive bucket when missing.
func (a *Archive) EnsureBucket(ctx context.Context) error {
	if err := a.store.EnsureBucket(ctx, a.bucket); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "ensure archive bucket failed")
	}
	return nil
}

// Archive uploads t. It implements session.Archiver.
func (a *Archive) Archive(ctx context.Context, t model.Transcript) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode transcript failed")
	}
	compressed := a.enc.EncodeAll(raw, make([]byte, 0, len(raw)/4))
	key := ObjectKey(a.prefix, t.SessionID, t.StartedAt)
	if err := a.store.PutObject(ctx, a.bucket, key, bytes.NewReader(compressed), int64(len(compressed)), contentType); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "upload transcript failed").WithDetail("key", key)
	}
	logger.Debug(ctx, "transcript archived",
		zap.String("key", key),
		zap.Int("raw_bytes", len(raw)),
		zap.Int("stored_bytes", len(compressed)))
	return nil
}

// Close releases the encoder.
func (a *Archive) Close() {
	_ = a.enc.Close()
}

// ObjectKey is the storage key of a transcript.
func ObjectKey(prefix, sessionID string, startedAt time.Time) string {
	return path.Join(prefix, startedAt.UTC().Format("2006/01/02"), sessionID+".json.zst")
}
