package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/jontes-page/avatar-service/internal/fetcher"
	"github.com/jontes-page/avatar-service/internal/mq"
	"github.com/jontes-page/avatar-service/internal/placeholder"
	"github.com/jontes-page/avatar-service/internal/resolver"
	"github.com/jontes-page/avatar-service/internal/transcoder"
	pkglog "github.com/jontes-page/avatar-service/pkg/log"
	"github.com/jontes-page/avatar-service/pkg/storage"
)

// Request failure modes, mapped to user-visible errors by the handler.
// transcoder.ErrUnprocessable passes through unwrapped.
var (
	// ErrInvalidSize means the requested size is not in the allow-list.
	ErrInvalidSize = errors.New("pipeline: invalid size")
	// ErrUpstream means the origin fetch failed or returned no bytes.
	ErrUpstream = errors.New("pipeline: upstream did not return a valid image")
	// ErrStore means the synchronous cache lookup failed (not a miss).
	ErrStore = errors.New("pipeline: store read failed")
)

// CacheStatus values for the X-Cache response header.
const (
	CacheHit  = "HIT"
	CacheMiss = "MISS"
)

// Result is a servable avatar response.
type Result struct {
	Body        []byte
	ContentType string
	// CacheStatus is CacheHit or CacheMiss for image responses, empty for
	// the placeholder.
	CacheStatus string
	// IPFSPath is set when the source URL went through the IPFS gateway
	// rewrite. Serve also sets it on error returns so the handler can
	// still emit the x-ipfs-path header.
	IPFSPath string
	// Cacheable marks responses that should carry the long-lived
	// Cache-Control header. The placeholder is never cached.
	Cacheable bool
}

// CacheKey builds the store key for a (size, source URL) pair. Two names
// aliasing to the same source URL share cache entries.
func CacheKey(size int, sourceURL string) string {
	return fmt.Sprintf("%d/%s", size, url.QueryEscape(sourceURL))
}

// Pipeline implements the cache-aside avatar flow: resolve the name, try the
// blob store, otherwise fetch the origin, transcode, respond, and populate
// every supported size in the background.
type Pipeline struct {
	resolver   resolver.NameResolver
	fetcher    fetcher.Fetcher
	transcoder transcoder.Transcoder
	store      storage.Storage
	bucket     string
	sizes      []int
	publisher  mq.AvatarEventPublisher // nil when events are disabled

	fanouts sync.WaitGroup
}

// New constructs a Pipeline. publisher may be nil.
func New(
	res resolver.NameResolver,
	f fetcher.Fetcher,
	t transcoder.Transcoder,
	store storage.Storage,
	bucket string,
	sizes []int,
	publisher mq.AvatarEventPublisher,
) *Pipeline {
	return &Pipeline{
		resolver:   res,
		fetcher:    f,
		transcoder: t,
		store:      store,
		bucket:     bucket,
		sizes:      sizes,
		publisher:  publisher,
	}
}

// Sizes returns the allow-listed sizes.
func (p *Pipeline) Sizes() []int {
	return p.sizes
}

// Serve handles one avatar request. On error the returned Result carries at
// most an IPFSPath; the body is nil.
//
// Concurrent requests for the same uncached (size, URL) pair may both fetch
// and transcode. Outputs are deterministic for identical input, so the
// duplicate writes are wasted work, not a correctness problem.
func (p *Pipeline) Serve(ctx context.Context, name string, size int) (Result, error) {
	l := pkglog.Ctx(ctx)

	if !slices.Contains(p.sizes, size) {
		return Result{}, ErrInvalidSize
	}

	res := p.resolver.Resolve(ctx, name)
	if res.State != resolver.StateFound {
		// No avatar and failed lookup both degrade to the placeholder.
		// The store is never touched on this path.
		l.Info().Str(pkglog.FieldName, name).Msg("serving placeholder")
		return Result{
			Body:        placeholder.Render(size),
			ContentType: placeholder.ContentType,
		}, nil
	}

	key := CacheKey(size, res.URL)

	rc, err := p.store.Read(ctx, key)
	switch {
	case err == nil:
		defer rc.Close()
		body, readErr := io.ReadAll(rc)
		if readErr != nil {
			return Result{IPFSPath: res.IPFSPath}, fmt.Errorf("%w: %s", ErrStore, readErr)
		}
		l.Info().Str(pkglog.FieldCacheKey, key).Str(pkglog.FieldCache, CacheHit).Msg("cache hit")
		return Result{
			Body:        body,
			ContentType: transcoder.ContentType,
			CacheStatus: CacheHit,
			IPFSPath:    res.IPFSPath,
			Cacheable:   true,
		}, nil
	case errors.Is(err, storage.ErrNotFound):
		// Miss: fall through to the origin.
	default:
		return Result{IPFSPath: res.IPFSPath}, fmt.Errorf("%w: %s", ErrStore, err)
	}

	data, err := p.fetcher.Fetch(ctx, res.URL)
	if err != nil {
		l.Warn().Err(err).Str(pkglog.FieldSourceURL, res.URL).Msg("origin fetch failed")
		return Result{IPFSPath: res.IPFSPath}, fmt.Errorf("%w: %s", ErrUpstream, err)
	}

	out, err := p.transcoder.Transcode(data, size)
	if err != nil {
		l.Warn().Err(err).Str(pkglog.FieldSourceURL, res.URL).Msg("transcode failed")
		return Result{IPFSPath: res.IPFSPath}, err
	}

	l.Info().Str(pkglog.FieldCacheKey, key).Str(pkglog.FieldCache, CacheMiss).Msg("cache miss")

	// Populate every supported size without holding up the response. The
	// work is detached from the request context: a client disconnect does
	// not cancel it.
	p.populate(pkglog.Detach(ctx), name, res.URL, data)

	return Result{
		Body:        out,
		ContentType: transcoder.ContentType,
		CacheStatus: CacheMiss,
		IPFSPath:    res.IPFSPath,
		Cacheable:   true,
	}, nil
}

// populate transcodes the origin bytes to every supported size, including the
// one just served, and writes each under its cache key. Sizes run
// independently; a failure in one is logged and does not abort the others.
func (p *Pipeline) populate(ctx context.Context, name, sourceURL string, data []byte) {
	p.fanouts.Add(1)

	go func() {
		defer p.fanouts.Done()
		l := pkglog.Ctx(ctx)

		var (
			mu       sync.Mutex
			variants []mq.CachedObjectRef
			wg       sync.WaitGroup
		)

		for _, size := range p.sizes {
			wg.Add(1)
			go func(size int) {
				defer wg.Done()

				out, err := p.transcoder.Transcode(data, size)
				if err != nil {
					l.Warn().Err(err).Int(pkglog.FieldSize, size).Msg("fan-out transcode failed")
					return
				}

				key := CacheKey(size, sourceURL)
				err = p.store.Write(ctx, key, bytes.NewReader(out), int64(len(out)), transcoder.ContentType)
				if err != nil {
					l.Warn().Err(err).Str(pkglog.FieldCacheKey, key).Msg("fan-out store write failed")
					return
				}

				mu.Lock()
				variants = append(variants, mq.CachedObjectRef{Bucket: p.bucket, Key: key, Size: size})
				mu.Unlock()
			}(size)
		}
		wg.Wait()

		l.Info().Str(pkglog.FieldSourceURL, sourceURL).Int("variants", len(variants)).Msg("resized and uploaded")

		if p.publisher != nil && len(variants) > 0 {
			event := &mq.AvatarCachedEvent{
				Name:      name,
				SourceURL: sourceURL,
				Variants:  variants,
				Timestamp: time.Now().Unix(),
			}
			if err := p.publisher.PublishAvatarCached(ctx, event); err != nil {
				l.Warn().Err(err).Msg("failed to publish avatar cached event")
			}
		}
	}()
}

// Wait blocks until all in-flight background fan-outs finish. Called during
// graceful shutdown.
func (p *Pipeline) Wait() {
	p.fanouts.Wait()
}
