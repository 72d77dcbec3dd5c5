// Package server exposes the backup history over HTTP: a small operator
// UI on / and a JSON API under /api/v1.
package server

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"ankibak-go/internal/backup"
)

// Server carries the handlers' shared state. Auth tokens are optional:
// an empty api token disables bearer auth, an empty csrf token disables
// the rollback header check.
type Server struct {
	repo      *backup.Repository
	gate      *backup.RollbackGate
	apiToken  string
	csrfToken string
	logger    backup.Logger
}

// NewServer wires the HTTP layer to a repository and rollback gate.
func NewServer(repo *backup.Repository, gate *backup.RollbackGate, apiToken, csrfToken string, logger backup.Logger) *Server {
	if logger == nil {
		logger = backup.NewNopLogger()
	}
	return &Server{
		repo:      repo,
		gate:      gate,
		apiToken:  apiToken,
		csrfToken: csrfToken,
		logger:    logger,
	}
}

// Router builds the chi router. The UI pages are public; download and
// rollback share handlers with the API and carry its auth checks.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/backups/{id}", s.handleDetail)
	r.Get("/backups/{id}/download", s.handleDownload)
	r.Post("/backups/{id}/rollback", s.handleRollback)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/healthz", s.handleHealthz)
		r.Get("/backups", s.handleAPIList)
		r.Get("/backups/{id}", s.handleAPIDetail)
		r.Get("/backups/{id}/download", s.handleDownload)
		r.Post("/backups/{id}/rollback", s.handleRollback)
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listItem is the wire shape of one row in the API list response.
type listItem struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Status    backup.Status `json:"status"`
	SizeBytes int64         `json:"size_bytes"`
	Stats     *backup.Stats `json:"stats"`
}

func (s *Server) handleAPIList(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	entries, err := s.repo.ListBackups(r.Context())
	if err != nil {
		s.logger.Error("listing backups", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	items := make([]listItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, listItem{
			ID:        e.ID,
			CreatedAt: e.CreatedAt,
			Status:    e.Status,
			SizeBytes: e.SizeBytes,
			Stats:     e.Stats,
		})
	}
	s.writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleAPIDetail(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	entry, err := s.repo.GetBackup(r.Context(), id)
	if err != nil {
		s.logger.Error("loading backup", "backup_id", id, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if entry == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if s.csrfToken != "" && r.Header.Get("x-csrf-token") != s.csrfToken {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if !s.gate.Allow() {
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	entry, err := s.repo.RollbackTo(r.Context(), id)
	if err != nil {
		s.logger.Warn("rollback refused", "backup_id", id, "error", err)
		if errors.Is(err, backup.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
		} else {
			w.WriteHeader(http.StatusBadRequest)
		}
		return
	}
	s.gate.Record()

	s.writeJSON(w, http.StatusOK, map[string]string{"rolled_back_to": entry.ID})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	entry, err := s.repo.GetBackup(r.Context(), id)
	if err != nil {
		s.logger.Error("loading backup", "backup_id", id, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if entry == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if entry.Status != backup.StatusCreated {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	collection, err := os.ReadFile(s.repo.BackupFilePath(entry))
	if err != nil {
		s.logger.Error("reading snapshot", "backup_id", id, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	archive, err := buildArchive(collection)
	if err != nil {
		s.logger.Error("building archive", "backup_id", id, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", "attachment; filename=backup-"+entry.ID+".tar.zst")
	w.Write(archive)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	entries, err := s.repo.ListBackups(r.Context())
	if err != nil {
		s.logger.Error("listing backups", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.renderTemplate(w, "index.html", indexData{Backups: listItems(entries)})
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	entry, err := s.repo.GetBackup(r.Context(), id)
	if err != nil {
		s.logger.Error("loading backup", "backup_id", id, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if entry == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.renderTemplate(w, "detail.html", detailData{Backup: detailView(entry)})
}

// authorized implements bearer auth for the API and the shared
// download/rollback handlers. Without a configured token every request
// passes.
func (s *Server) authorized(r *http.Request) bool {
	if s.apiToken == "" {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && token == s.apiToken
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writing json response", "error", err)
	}
}
