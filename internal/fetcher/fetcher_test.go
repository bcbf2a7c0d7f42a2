package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jontes-page/avatar-service/internal/config"
)

const testUA = "ENS Avatar Service <jonatan@jontes.page>"

func newFetcher(timeout time.Duration) *HTTPFetcher {
	return New(config.FetcherConfig{Timeout: timeout, UserAgent: testUA})
}

func TestFetchReturnsBodyAndSendsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	body, err := newFetcher(2 * time.Second).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), body)
	assert.Equal(t, testUA, gotUA)
}

func TestFetchEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := newFetcher(2 * time.Second).Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrEmptyBody)
}

func TestFetchNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := newFetcher(2 * time.Second).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.Write([]byte("too late"))
	}))
	defer srv.Close()

	_, err := newFetcher(20 * time.Millisecond).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
}
