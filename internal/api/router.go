package api

import (
	"net/http"
)

// RegisterRoutes adds the API endpoints to mux.
func RegisterRoutes(mux *http.ServeMux, h *Handlers, maxBodyBytes int64) {
	mux.HandleFunc("GET /{$}", h.Root)
	mux.HandleFunc("GET /health", h.Health)

	index := Wrap(h.Index, maxBodyBytes)
	mux.Handle("POST /api/v1/index", index)
	mux.Handle("POST /batch-upload", index)

	mux.Handle("POST /api/v1/search", Wrap(h.Search, maxBodyBytes))
	mux.Handle("POST /api/v1/retrieve", Wrap(h.Retrieve, maxBodyBytes))

	mux.Handle("GET /api/v1/projects", Wrap(h.ListProjects, maxBodyBytes))
	mux.Handle("GET /api/v1/projects/{id}", Wrap(h.GetProject, maxBodyBytes))
	mux.Handle("DELETE /api/v1/projects/{id}", Wrap(h.DeleteProject, maxBodyBytes))
}
