// Package extractor turns a classified view into stored media references.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/feedwalker/api/schemas"
	"github.com/xkilldash9x/feedwalker/internal/fetch"
	"github.com/xkilldash9x/feedwalker/internal/signals"
)

var (
	// ErrExtractionFailed means neither a download nor the fallback capture produced an artifact.
	ErrExtractionFailed = errors.New("extractor: extraction failed")
	// ErrStorage wraps failures of the storage collaborator.
	ErrStorage = errors.New("extractor: storage error")
)

// Result is what one extraction produced.
type Result struct {
	Media        []schemas.MediaReference
	FromFallback bool
	// Snapshot is the diagnostic capture path for video items.
	Snapshot string
	// AlreadyStored is set when the item had media from an earlier run and nothing was fetched.
	AlreadyStored bool
}

// Extractor resolves media URLs, downloads them, and persists the bytes.
type Extractor struct {
	profile *signals.Profile
	fetcher schemas.Fetcher
	storage schemas.Storage
	snaps   schemas.Snapshotter
	policy  fetch.Policy
	logger  *zap.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithSnapshots enables the diagnostic capture for video items.
func WithSnapshots(s schemas.Snapshotter) Option {
	return func(e *Extractor) { e.snaps = s }
}

// New creates an Extractor.
func New(profile *signals.Profile, fetcher schemas.Fetcher, storage schemas.Storage, policy fetch.Policy, logger *zap.Logger, opts ...Option) *Extractor {
	e := &Extractor{
		profile: profile,
		fetcher: fetcher,
		storage: storage,
		policy:  policy,
		logger:  logger.Named("extractor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract handles the media of the current item. Video items only get a
// diagnostic snapshot. Image items are downloaded, or captured from the
// viewport when no download succeeds. Items that already have stored media
// are left alone.
func (e *Extractor) Extract(ctx context.Context, view schemas.View, target, itemID string, ct schemas.ContentType) (Result, error) {
	logger := e.logger.With(zap.String("item_id", itemID), zap.String("content_type", string(ct)))

	if ct == schemas.ContentVideo {
		return Result{Snapshot: e.videoSnapshot(ctx, view, itemID, logger)}, nil
	}

	existing, err := e.storage.MediaRefs(ctx, target, itemID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if len(existing) > 0 {
		logger.Debug("Media already stored, skipping download.", zap.Int("refs", len(existing)))
		return Result{Media: existing, FromFallback: fromFallback(existing), AlreadyStored: true}, nil
	}

	var refs []schemas.MediaReference
	urls := e.ResolveImageURLs(ctx, view)
	for i, u := range urls {
		data, err := fetch.Retry(ctx, e.fetcher, u, e.headers(), e.policy, logger)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			logger.Warn("Image download failed.", zap.String("url", u), zap.Error(err))
			continue
		}
		ref, err := e.store(ctx, target, itemID, i, u, data, nil)
		if err != nil {
			return Result{}, err
		}
		refs = append(refs, ref)
	}
	if len(refs) > 0 {
		return Result{Media: refs}, nil
	}

	if len(urls) == 0 {
		logger.Info("No usable image URL, falling back to viewport capture.")
	} else {
		logger.Info("All downloads failed, falling back to viewport capture.", zap.Int("urls", len(urls)))
	}
	png, err := view.Screenshot(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: fallback capture: %w", ErrExtractionFailed, err)
	}
	ref, err := e.store(ctx, target, itemID, 0, "", png, map[string]string{"capture": "fallback"})
	if err != nil {
		return Result{}, err
	}
	return Result{Media: []schemas.MediaReference{ref}, FromFallback: true}, nil
}

func fromFallback(refs []schemas.MediaReference) bool {
	for _, r := range refs {
		if r.URL == "" {
			return true
		}
	}
	return false
}

func (e *Extractor) headers() map[string]string {
	if e.profile.HomeURL == "" {
		return nil
	}
	return map[string]string{"Referer": e.profile.HomeURL}
}

func (e *Extractor) store(ctx context.Context, target, itemID string, ordinal int, sourceURL string, data []byte, extra map[string]string) (schemas.MediaReference, error) {
	contentType := http.DetectContentType(data)
	handle, err := e.storage.PutBlob(ctx, data, schemas.BlobMetadata{
		Filename:    fmt.Sprintf("%s_%d%s", itemID, ordinal, extensionFor(contentType)),
		ContentType: contentType,
		Target:      target,
		ItemID:      itemID,
		Platform:    e.profile.Platform,
		SourceURL:   sourceURL,
		Extra:       extra,
	})
	if err != nil {
		return schemas.MediaReference{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	ref := schemas.MediaReference{
		URL:         sourceURL,
		Format:      schemas.FormatImage,
		Handle:      handle,
		Ordinal:     ordinal,
		ContentType: contentType,
		Size:        len(data),
	}
	if _, err := e.storage.PutMediaRef(ctx, target, itemID, ref); err != nil {
		return schemas.MediaReference{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return ref, nil
}

func (e *Extractor) videoSnapshot(ctx context.Context, view schemas.View, itemID string, logger *zap.Logger) string {
	if e.snaps == nil {
		return ""
	}
	png, err := view.Screenshot(ctx)
	if err != nil {
		logger.Debug("Video diagnostic screenshot failed.", zap.Error(err))
		return ""
	}
	path, err := e.snaps.SaveSnapshot(ctx, itemID+"_video", png)
	if err != nil {
		logger.Debug("Saving video diagnostic snapshot failed.", zap.Error(err))
		return ""
	}
	return path
}

// -- URL resolution --

// ResolveImageURLs tries the profile's image source strategies in order and
// returns the URLs of the first one that yields any usable candidate. Only
// multi-image profiles return more than one.
func (e *Extractor) ResolveImageURLs(ctx context.Context, view schemas.View) []string {
	for _, sel := range e.profile.ImageSources {
		els, err := view.FindAll(ctx, sel)
		if err != nil {
			e.logger.Debug("Image source lookup failed.", zap.Stringer("selector", sel), zap.Error(err))
			continue
		}
		var urls []string
		seen := make(map[string]bool)
		for _, el := range els {
			u, ok := e.candidateURL(el)
			if !ok || seen[u] {
				continue
			}
			seen[u] = true
			urls = append(urls, u)
			if !e.profile.MultiImage {
				break
			}
		}
		if len(urls) > 0 {
			return urls
		}
	}
	return nil
}

func (e *Extractor) candidateURL(el schemas.Element) (string, bool) {
	if src, ok := el.Attr("src"); ok && e.usable(src) {
		return src, true
	}
	if srcset, ok := el.Attr("srcset"); ok {
		if u := largestSrcsetCandidate(srcset); e.usable(u) {
			return u, true
		}
	}
	return "", false
}

// usable rejects blob and data URLs and anything outside the media host allow-list.
func (e *Extractor) usable(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return false
	}
	return e.profile.AllowedMediaHost(u.Hostname())
}

// largestSrcsetCandidate picks the widest entry of a srcset attribute.
func largestSrcsetCandidate(srcset string) string {
	best, bestWidth := "", -1
	for _, part := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) == 0 {
			continue
		}
		width := 0
		if len(fields) > 1 {
			_, _ = fmt.Sscanf(strings.TrimSuffix(fields[1], "w"), "%d", &width)
		}
		if width > bestWidth {
			best, bestWidth = fields[0], width
		}
	}
	return best
}

func extensionFor(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/jpeg"):
		return ".jpg"
	case strings.HasPrefix(contentType, "image/png"):
		return ".png"
	case strings.HasPrefix(contentType, "image/webp"):
		return ".webp"
	case strings.HasPrefix(contentType, "image/gif"):
		return ".gif"
	case strings.HasPrefix(contentType, "video/mp4"):
		return ".mp4"
	default:
		return ".bin"
	}
}
