package mw

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// CacheKeyFunc names the cache entry for a request. An empty key bypasses the cache.
type CacheKeyFunc func(c *gin.Context) string

type cachedResponse struct {
	status      int
	contentType string
	body        []byte
}

type recordingWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w recordingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Cache serves GET responses from store under the key chosen by key, so
// requests that differ only in spelling can share one entry. Only 200
// responses are kept; hits carry an X-Cache header.
func Cache(store *cache.Cache, ttl time.Duration, key CacheKeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}
		k := key(c)
		if k == "" {
			c.Next()
			return
		}

		if v, found := store.Get(k); found {
			hit := v.(cachedResponse)
			c.Header("X-Cache", "HIT")
			c.Data(hit.status, hit.contentType, hit.body)
			c.Abort()
			return
		}

		rw := recordingWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = rw
		c.Next()

		if rw.Status() == http.StatusOK {
			store.Set(k, cachedResponse{
				status:      rw.Status(),
				contentType: rw.Header().Get("Content-Type"),
				body:        rw.body.Bytes(),
			}, ttl)
		}
	}
}

// RequestURIKey keys the cache on the raw request URI.
func RequestURIKey(c *gin.Context) string {
	return c.Request.RequestURI
}
