package presentation

import (
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
)

// MountFiles serves PDFs written by the disk link store.
func MountFiles(r chi.Router, dir string) {
	fsys := os.DirFS(dir)

	r.Get("/files/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if name == "" || name != path.Base(name) || strings.HasPrefix(name, ".") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="`+downloadName(name)+`"`)
		w.Header().Set("Cache-Control", "private, no-store")
		http.ServeFileFS(w, r, fsys, name)
	})
}

// downloadName drops the random prefix the disk store adds.
func downloadName(stored string) string {
	if len(stored) > 37 && stored[36] == '-' {
		return stored[37:]
	}
	return stored
}
