package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/webp"

	"github.com/jontes-page/avatar-service/internal/config"
	"github.com/jontes-page/avatar-service/internal/fetcher"
	"github.com/jontes-page/avatar-service/internal/mq"
	"github.com/jontes-page/avatar-service/internal/resolver"
	"github.com/jontes-page/avatar-service/internal/transcoder"
	"github.com/jontes-page/avatar-service/pkg/storage"
)

var testSizes = []int{64, 128, 256}

// memStore is an in-memory storage.Storage with injectable failures.
type memStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	reads    int
	readErr  error
	writeErr func(key string) error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if m.writeErr != nil {
		if err := m.writeErr(key); err != nil {
			return err
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memStore) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.readErr != nil {
		return nil, m.readErr
	}
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStore) snapshot() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.objects))
	for k, v := range m.objects {
		out[k] = v
	}
	return out
}

// staticResolver returns a fixed Resolution for every name.
type staticResolver struct {
	res resolver.Resolution
}

func (s staticResolver) Resolve(ctx context.Context, name string) resolver.Resolution {
	return s.res
}

// capturingPublisher records published events.
type capturingPublisher struct {
	mu     sync.Mutex
	events []*mq.AvatarCachedEvent
}

func (p *capturingPublisher) PublishAvatarCached(ctx context.Context, event *mq.AvatarCachedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 0x42, A: 0xFF})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func originServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newPipeline(res resolver.NameResolver, store storage.Storage, pub mq.AvatarEventPublisher) *Pipeline {
	f := fetcher.New(config.FetcherConfig{Timeout: 5 * time.Second, UserAgent: "test"})
	return New(res, f, transcoder.New(), store, "test-bucket", testSizes, pub)
}

func foundResolver(url string) staticResolver {
	return staticResolver{res: resolver.Resolution{State: resolver.StateFound, URL: url}}
}

func TestCacheKey(t *testing.T) {
	key := CacheKey(64, "https://img.example/a b.png")
	assert.Equal(t, "64/https%3A%2F%2Fimg.example%2Fa+b.png", key)
	assert.NotContains(t, key[3:], "/")
}

func TestServeInvalidSize(t *testing.T) {
	p := newPipeline(foundResolver("http://unused"), newMemStore(), nil)

	_, err := p.Serve(context.Background(), "alice.eth", 999)
	require.ErrorIs(t, err, ErrInvalidSize)
}

func TestServePlaceholder(t *testing.T) {
	for name, res := range map[string]resolver.Resolution{
		"no avatar":     {State: resolver.StateNoAvatar},
		"lookup failed": {State: resolver.StateFailed, Err: fmt.Errorf("boom")},
	} {
		t.Run(name, func(t *testing.T) {
			store := newMemStore()
			p := newPipeline(staticResolver{res: res}, store, nil)

			result, err := p.Serve(context.Background(), "alice.eth", 64)
			require.NoError(t, err)
			assert.Equal(t, "image/svg+xml", result.ContentType)
			assert.Contains(t, string(result.Body), `height="64px"`)
			assert.False(t, result.Cacheable)
			assert.Empty(t, result.CacheStatus)

			p.Wait()
			assert.Empty(t, store.snapshot(), "placeholder path must not write to the store")
			assert.Zero(t, store.reads, "placeholder path must not read the store")
		})
	}
}

func TestServeMissThenHit(t *testing.T) {
	origin := originServer(t, pngBytes(t, 200, 200))
	store := newMemStore()
	p := newPipeline(foundResolver(origin.URL), store, nil)

	first, err := p.Serve(context.Background(), "alice.eth", 64)
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, first.CacheStatus)
	assert.Equal(t, "image/webp", first.ContentType)
	assert.True(t, first.Cacheable)

	cfg, err := webp.DecodeConfig(bytes.NewReader(first.Body))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 64, cfg.Height)

	// All supported sizes become populated, not just the requested one.
	p.Wait()
	objects := store.snapshot()
	require.Len(t, objects, len(testSizes))
	for _, size := range testSizes {
		data, ok := objects[CacheKey(size, origin.URL)]
		require.True(t, ok, "missing cache entry for size %d", size)
		cfg, err := webp.DecodeConfig(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, size, cfg.Width)
	}

	second, err := p.Serve(context.Background(), "alice.eth", 64)
	require.NoError(t, err)
	assert.Equal(t, CacheHit, second.CacheStatus)
	assert.Equal(t, first.Body, second.Body, "hit must be byte-identical to the miss")
}

func TestServeFanOutSizesAreIndependent(t *testing.T) {
	origin := originServer(t, pngBytes(t, 200, 200))
	store := newMemStore()
	store.writeErr = func(key string) error {
		if strings.HasPrefix(key, "128/") {
			return fmt.Errorf("injected write failure")
		}
		return nil
	}
	p := newPipeline(foundResolver(origin.URL), store, nil)

	_, err := p.Serve(context.Background(), "alice.eth", 64)
	require.NoError(t, err)

	p.Wait()
	objects := store.snapshot()
	assert.Contains(t, objects, CacheKey(64, origin.URL))
	assert.Contains(t, objects, CacheKey(256, origin.URL))
	assert.NotContains(t, objects, CacheKey(128, origin.URL))
}

func TestServeUpstreamFailure(t *testing.T) {
	t.Run("unreachable origin", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		p := newPipeline(foundResolver(srv.URL), newMemStore(), nil)
		_, err := p.Serve(context.Background(), "alice.eth", 64)
		require.ErrorIs(t, err, ErrUpstream)
	})

	t.Run("empty body", func(t *testing.T) {
		origin := originServer(t, nil)
		p := newPipeline(foundResolver(origin.URL), newMemStore(), nil)
		_, err := p.Serve(context.Background(), "alice.eth", 64)
		require.ErrorIs(t, err, ErrUpstream)
	})
}

func TestServeUnprocessableImage(t *testing.T) {
	origin := originServer(t, []byte("<html>this is not an image</html>"))
	store := newMemStore()
	p := newPipeline(foundResolver(origin.URL), store, nil)

	_, err := p.Serve(context.Background(), "alice.eth", 64)
	require.ErrorIs(t, err, transcoder.ErrUnprocessable)

	p.Wait()
	assert.Empty(t, store.snapshot(), "failed transcode must not write cache entries")
}

func TestServeStoreFailure(t *testing.T) {
	store := newMemStore()
	store.readErr = fmt.Errorf("store is down")
	p := newPipeline(foundResolver("http://unused.example"), store, nil)

	_, err := p.Serve(context.Background(), "alice.eth", 64)
	require.ErrorIs(t, err, ErrStore)
}

func TestServeCarriesIPFSPath(t *testing.T) {
	origin := originServer(t, pngBytes(t, 120, 120))
	res := staticResolver{res: resolver.Resolution{
		State:    resolver.StateFound,
		URL:      origin.URL,
		IPFSPath: "/ipfs/QmYwAPJzv5CZsnA/cat.png",
	}}

	t.Run("on miss", func(t *testing.T) {
		p := newPipeline(res, newMemStore(), nil)
		result, err := p.Serve(context.Background(), "alice.eth", 64)
		require.NoError(t, err)
		assert.Equal(t, "/ipfs/QmYwAPJzv5CZsnA/cat.png", result.IPFSPath)
		p.Wait()
	})

	t.Run("on upstream error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()
		failing := staticResolver{res: resolver.Resolution{
			State:    resolver.StateFound,
			URL:      srv.URL,
			IPFSPath: "/ipfs/QmYwAPJzv5CZsnA/cat.png",
		}}
		p := newPipeline(failing, newMemStore(), nil)
		result, err := p.Serve(context.Background(), "alice.eth", 64)
		require.ErrorIs(t, err, ErrUpstream)
		assert.Equal(t, "/ipfs/QmYwAPJzv5CZsnA/cat.png", result.IPFSPath)
	})
}

func TestServePublishesCachedEvent(t *testing.T) {
	origin := originServer(t, pngBytes(t, 200, 200))
	pub := &capturingPublisher{}
	p := newPipeline(foundResolver(origin.URL), newMemStore(), pub)

	_, err := p.Serve(context.Background(), "alice.eth", 64)
	require.NoError(t, err)
	p.Wait()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.events, 1)
	event := pub.events[0]
	assert.Equal(t, "alice.eth", event.Name)
	assert.Equal(t, origin.URL, event.SourceURL)
	assert.Len(t, event.Variants, len(testSizes))
	for _, v := range event.Variants {
		assert.Equal(t, "test-bucket", v.Bucket)
		assert.Equal(t, CacheKey(v.Size, origin.URL), v.Key)
	}
}
