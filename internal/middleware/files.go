package middleware

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactFileServer serves job artifacts from dir. Only regular files
// under the root are served; directory listings and traversal attempts
// get a 404.
func ArtifactFileServer(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clean := filepath.Clean("/" + r.URL.Path)
		if strings.Contains(clean, "..") {
			http.NotFound(w, r)
			return
		}

		path := filepath.Join(dir, clean)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Cache-Control", "private, max-age=3600")
		http.ServeFile(w, r, path)
	})
}
