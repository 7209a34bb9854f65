package static

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/imgharvest/internal/harvest"
)

const resultsPage = `<!doctype html>
<html><body>
  <img src="/img/one.jpg">
  <img src="https://cdn.test/two.jpg">
  <img src="/img/one.jpg">
  <img alt="no source">
  <a href="/img/three.jpg"><img data-src="/lazy.jpg" src="/img/three.jpg"></a>
</body></html>`

func TestDiscoverCollectsImagesInOrder(t *testing.T) {
	t.Parallel()

	queries := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, resultsPage)
	}))
	t.Cleanup(srv.Close)

	d, err := New(Config{SearchURL: srv.URL + "/search?q={term}"}, &countingIDs{}, nil)
	require.NoError(t, err)

	seq, err := d.Discover(context.Background(), "black hole")
	require.NoError(t, err)
	assert.Equal(t, "black hole", <-queries)

	var got []harvest.Candidate
	for c := range seq {
		got = append(got, c)
	}
	require.Len(t, got, 3)
	assert.Equal(t, srv.URL+"/img/one.jpg", got[0].SourceURL)
	assert.Equal(t, "https://cdn.test/two.jpg", got[1].SourceURL)
	assert.Equal(t, srv.URL+"/img/three.jpg", got[2].SourceURL)
	assert.Equal(t, "id-1", got[0].ProposedID)
	assert.Equal(t, "id-3", got[2].ProposedID)
}

func TestDiscoverCustomSelectorAndLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, resultsPage)
	}))
	t.Cleanup(srv.Close)

	d, err := New(Config{
		SearchURL: srv.URL + "/search?q={term}",
		Selector:  "img[data-src]",
		Attribute: "data-src",
		Limit:     1,
	}, nil, nil)
	require.NoError(t, err)

	seq, err := d.Discover(context.Background(), "sun")
	require.NoError(t, err)
	var urls []string
	for c := range seq {
		urls = append(urls, c.SourceURL)
	}
	assert.Equal(t, []string{srv.URL + "/lazy.jpg"}, urls)
}

func TestDiscoverEmptyPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, "<html><body><p>no results</p></body></html>")
	}))
	t.Cleanup(srv.Close)

	d, err := New(Config{SearchURL: srv.URL + "/?q={term}"}, nil, nil)
	require.NoError(t, err)
	seq, err := d.Discover(context.Background(), "sun")
	require.NoError(t, err)
	for range seq {
		t.Fatal("expected no candidates")
	}
}

func TestDiscoverHTTPErrorIsDiscoveryError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	d, err := New(Config{SearchURL: srv.URL + "/?q={term}"}, nil, nil)
	require.NoError(t, err)
	seq, err := d.Discover(context.Background(), "sun")
	require.Error(t, err)
	assert.Nil(t, seq)

	var discErr *harvest.DiscoveryError
	require.ErrorAs(t, err, &discErr)
	assert.Equal(t, "sun", discErr.Term)
	assert.Contains(t, err.Error(), "403")
}

func TestDiscoverCanceledContext(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	d, err := New(Config{SearchURL: srv.URL + "/?q={term}"}, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Discover(ctx, "sun")
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRequiresSearchURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil)
	require.Error(t, err)
}

type countingIDs struct{ n int }

func (c *countingIDs) NewID() (string, error) {
	c.n++
	return fmt.Sprintf("id-%d", c.n), nil
}
