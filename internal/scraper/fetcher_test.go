package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/old":
			http.Redirect(w, r, "/new", http.StatusFound)
		case "/new":
			assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html>ok</html>"))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	f := NewHTTPFetcher(server.Client(), 0, testLogger())
	ctx := context.Background()

	t.Run("follows redirects and reports final url", func(t *testing.T) {
		resp, err := f.Fetch(ctx, FetchRequest{URL: server.URL + "/old", Header: DefaultHeaders("")})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, server.URL+"/new", resp.FinalURL)
		assert.Equal(t, "<html>ok</html>", string(resp.Body))
		assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))
	})

	t.Run("error status is not an error", func(t *testing.T) {
		resp, err := f.Fetch(ctx, FetchRequest{URL: server.URL + "/missing"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.Status)
	})

	t.Run("timeout is a transport error", func(t *testing.T) {
		_, err := f.Fetch(ctx, FetchRequest{URL: server.URL + "/slow", Timeout: 20 * time.Millisecond})
		assert.Error(t, err)
	})
}
