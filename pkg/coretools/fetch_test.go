package coretools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPage = `<!doctype html>
<html><head><title>T</title><style>body{}</style></head>
<body><h1>Hello</h1><script>var x = 1;</script><p>First   paragraph.</p><ul><li>one</li><li>two</li></ul></body></html>`

type fakeRenderer struct {
	urls []string
}

func (f *fakeRenderer) Render(_ context.Context, url string) (string, error) {
	f.urls = append(f.urls, url)
	return "<html><body><p>rendered</p></body></html>", nil
}

func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, testPage)
	})
	mux.HandleFunc("/data.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true}`)
	})
	mux.HandleFunc("/image", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG\r\n\x1a\n\x00\x00"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch(t *testing.T) {
	srv := setupTestServer(t)
	renderer := &fakeRenderer{}
	tt := setupTestTools(t, func(o *Options) { o.Renderer = renderer })

	t.Run("should convert html to text", func(t *testing.T) {
		res := tt.run(t, ToolFetch, map[string]interface{}{"url": srv.URL + "/page"})
		require.True(t, res.Success, res.Error)
		out := res.Output.(string)
		assert.Contains(t, out, "Hello")
		assert.Contains(t, out, "First paragraph.")
		assert.Contains(t, out, "- one")
		assert.NotContains(t, out, "var x")
		assert.NotContains(t, out, "body{}")
	})

	t.Run("should return raw html on request", func(t *testing.T) {
		res := tt.run(t, ToolFetch, map[string]interface{}{"url": srv.URL + "/page", "format": "html"})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, testPage, res.Output)
	})

	t.Run("should pass text formats through", func(t *testing.T) {
		res := tt.run(t, ToolFetch, map[string]interface{}{"url": srv.URL + "/data.json"})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, `{"ok":true}`, res.Output)
	})

	t.Run("should reject binary content and bad statuses", func(t *testing.T) {
		res := tt.run(t, ToolFetch, map[string]interface{}{"url": srv.URL + "/image"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "unsupported content type")

		res = tt.run(t, ToolFetch, map[string]interface{}{"url": srv.URL + "/missing"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "status 404")
	})

	t.Run("should reject non-http urls", func(t *testing.T) {
		res := tt.run(t, ToolFetch, map[string]interface{}{"url": "file:///etc/passwd"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "http or https")
	})

	t.Run("should render through the page renderer", func(t *testing.T) {
		res := tt.run(t, ToolFetch, map[string]interface{}{"url": "https://example.com/app", "render": true})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "rendered", res.Output)
		assert.Equal(t, []string{"https://example.com/app"}, renderer.urls)
	})
}
