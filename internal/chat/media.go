package chat

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nail-dp-dev/naildp-realtime/internal/audit"
	"github.com/nail-dp-dev/naildp-realtime/pkg/apperr"
	"github.com/nail-dp-dev/naildp-realtime/pkg/idgen"
	pkglog "github.com/nail-dp-dev/naildp-realtime/pkg/log"
	"github.com/nail-dp-dev/naildp-realtime/pkg/storage"
)

const uploadConcurrency = 4

var (
	imageExtensions = map[string]bool{"jpg": true, "jpeg": true, "png": true, "gif": true}
	videoExtensions = map[string]bool{"mp4": true, "mov": true}
)

// Upload is one file of a media send. Open is called once, from an upload
// goroutine.
type Upload struct {
	Name        string
	Size        int64
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// MediaUploader validates and stores media batches all-or-nothing.
type MediaUploader struct {
	store     storage.Storage
	keys      idgen.Generator
	maxSize   int64
	maxImages int
}

// NewMediaUploader creates an uploader. maxSize and maxImages of zero
// disable the respective limit.
func NewMediaUploader(store storage.Storage, keys idgen.Generator, maxSize int64, maxImages int) *MediaUploader {
	if keys == nil {
		keys = idgen.NewULIDGenerator()
	}
	return &MediaUploader{store: store, keys: keys, maxSize: maxSize, maxImages: maxImages}
}

// URL returns the public address of an uploaded key.
func (u *MediaUploader) URL(key string) string {
	return u.store.URL(key)
}

// Validate checks a batch against the rules of kind.
func (u *MediaUploader) Validate(kind MessageType, files []Upload) error {
	switch kind {
	case MessageImage:
		if len(files) == 0 {
			return apperr.Validation("at least one image is required")
		}
		if u.maxImages > 0 && len(files) > u.maxImages {
			return apperr.Validation(fmt.Sprintf("at most %d images can be sent at once", u.maxImages))
		}
	case MessageVideo, MessageFile:
		if len(files) != 1 {
			return apperr.Validation(fmt.Sprintf("exactly one %s is required", kind))
		}
	default:
		return apperr.Validation(fmt.Sprintf("unsupported media type %q", kind))
	}

	type fingerprint struct {
		name string
		size int64
	}
	seen := make(map[fingerprint]bool, len(files))

	for _, f := range files {
		if f.Name == "" || f.Size <= 0 {
			return apperr.Validation("empty file")
		}
		if u.maxSize > 0 && f.Size > u.maxSize {
			return apperr.Validation(fmt.Sprintf("%s exceeds the maximum size", f.Name))
		}

		ext := extension(f.Name)
		switch kind {
		case MessageImage:
			if !imageExtensions[ext] {
				return apperr.Validation("invalid image extension: " + f.Name)
			}
		case MessageVideo:
			if !videoExtensions[ext] {
				return apperr.Validation("invalid video extension: " + f.Name)
			}
		}

		fp := fingerprint{name: f.Name, size: f.Size}
		if seen[fp] {
			return apperr.Validation("duplicate file in request: " + f.Name)
		}
		seen[fp] = true
	}
	return nil
}

// Upload validates files and stores them concurrently under
// {nickname}/{ulid}.{ext}. Keys are returned in input order. When any upload
// fails every key of the batch is deleted and a storage error is returned.
func (u *MediaUploader) Upload(ctx context.Context, nickname string, kind MessageType, files []Upload) ([]string, error) {
	if err := u.Validate(kind, files); err != nil {
		return nil, err
	}

	keys := make([]string, len(files))
	for i, f := range files {
		id, err := u.keys.Generate()
		if err != nil {
			return nil, apperr.Storage("failed to generate media key", err)
		}
		keys[i] = objectKey(nickname, id, extension(f.Name))
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)

	for i, f := range files {
		key := keys[i]
		g.Go(func() error {
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("open %s: %w", f.Name, err)
			}
			defer rc.Close()

			if err := u.store.Write(gCtx, key, rc, f.Size, f.ContentType); err != nil {
				return fmt.Errorf("upload %s: %w", f.Name, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		u.Cleanup(ctx, nickname, keys)
		return nil, apperr.Storage("failed to upload media", err)
	}
	return keys, nil
}

// Cleanup deletes keys on a context detached from the caller, so a cancelled
// request still removes what it uploaded.
func (u *MediaUploader) Cleanup(ctx context.Context, nickname string, keys []string) {
	ctx = context.WithoutCancel(ctx)
	l := pkglog.Ctx(ctx)

	for _, key := range keys {
		if err := u.store.Delete(ctx, key); err != nil {
			l.Error().Err(err).Str("key", key).Msg("failed to delete media object")
		}
	}
	audit.LogWithDetail(ctx, audit.ActionMediaRollback, nickname, "", strings.Join(keys, ","), "media batch rolled back")
}

func objectKey(nickname, id, ext string) string {
	if ext == "" {
		return nickname + "/" + id
	}
	return nickname + "/" + id + "." + ext
}

func extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}
