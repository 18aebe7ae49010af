// Package spec embeds the OpenAPI document for the settlement API.
package spec

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"net/http"
	"sync"
)

//go:embed openapi.yaml
var openapiFS embed.FS

var (
	loadOnce sync.Once
	document []byte
	etag     string
	loadErr  error
)

func load() ([]byte, string, error) {
	loadOnce.Do(func() {
		document, loadErr = openapiFS.ReadFile("openapi.yaml")
		if loadErr == nil {
			sum := sha256.Sum256(document)
			etag = `"` + hex.EncodeToString(sum[:8]) + `"`
		}
	})
	return document, etag, loadErr
}

// OpenAPIHandler serves the embedded OpenAPI document with an ETag so the
// docs UI can revalidate cheaply.
func OpenAPIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		content, tag, err := load()
		if err != nil {
			http.Error(w, "openapi document not available", http.StatusInternalServerError)
			return
		}
		w.Header().Set("ETag", tag)
		w.Header().Set("Cache-Control", "public, max-age=300")
		if r.Header.Get("If-None-Match") == tag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(content)
	}
}
