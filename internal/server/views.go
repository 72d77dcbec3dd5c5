package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"ankibak-go/internal/backup"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type indexData struct {
	Backups []backupListItem
}

type detailData struct {
	Backup backupDetailView
}

type backupListItem struct {
	ID          string
	CreatedAt   string
	Status      string
	TotalCards  int64
	TotalDecks  int64
	TotalNotes  int64
	SizeDisplay string
}

type backupDetailView struct {
	ID          string
	CreatedAt   string
	Status      string
	ContentHash string
	SizeDisplay string
	DeckStats   []backup.DeckStats
}

func listItems(entries []*backup.Entry) []backupListItem {
	items := make([]backupListItem, 0, len(entries))
	for _, e := range entries {
		item := backupListItem{
			ID:          e.ID,
			CreatedAt:   formatTimestamp(e.CreatedAt),
			Status:      strings.ToLower(string(e.Status)),
			SizeDisplay: formatSize(e.SizeBytes),
		}
		if e.Stats != nil {
			item.TotalCards = e.Stats.TotalCards
			item.TotalDecks = e.Stats.TotalDecks
			item.TotalNotes = e.Stats.TotalNotes
		}
		items = append(items, item)
	}
	return items
}

func detailView(e *backup.Entry) backupDetailView {
	view := backupDetailView{
		ID:          e.ID,
		CreatedAt:   formatTimestamp(e.CreatedAt),
		Status:      strings.ToLower(string(e.Status)),
		ContentHash: e.ContentHash,
		SizeDisplay: formatSize(e.SizeBytes),
	}
	if e.Stats != nil {
		view.DeckStats = e.Stats.DeckStats
	}
	return view
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05") + " UTC"
}

func formatSize(bytes int64) string {
	switch {
	case bytes < 1024:
		return fmt.Sprintf("%d B", bytes)
	case bytes < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	}
}

func (s *Server) renderTemplate(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Error("rendering template", "template", name, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}
