package ui

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed assets
var assets embed.FS

var contentTypes = map[string]string{
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript; charset=utf-8",
	".html": "text/html; charset=utf-8",
	".svg":  "image/svg+xml",
}

// AssetHandler serves the console. Paths without an extension are client-side
// routes (/devices/eth0) and get index.html.
func AssetHandler() http.HandlerFunc {
	assetsFS, _ := fs.Sub(assets, "assets")

	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/assets/")
		name = strings.TrimPrefix(name, "/")
		if name == "" || path.Ext(name) == "" {
			serveIndex(w, assetsFS)
			return
		}

		content, err := fs.ReadFile(assetsFS, name)
		if err != nil {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		if ct, ok := contentTypes[path.Ext(name)]; ok {
			w.Header().Set("Content-Type", ct)
		}
		w.Write(content)
	}
}

func serveIndex(w http.ResponseWriter, assetsFS fs.FS) {
	content, err := fs.ReadFile(assetsFS, "index.html")
	if err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Content-Type", contentTypes[".html"])
	w.Write(content)
}
