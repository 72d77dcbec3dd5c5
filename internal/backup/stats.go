package backup

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"
)

// ReadCollectionStats opens a snapshot's collection file as a SQLite
// database and extracts row counts plus per-deck card counts. Deck names
// come from the dedicated decks table when the schema has one, otherwise
// from the legacy JSON column on col.
func ReadCollectionStats(path string) (*Stats, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening collection db: %w", err)
	}
	defer db.Close()

	stats := &Stats{DeckStats: []DeckStats{}}
	if err := db.QueryRow("SELECT COUNT(*) FROM cards").Scan(&stats.TotalCards); err != nil {
		return nil, fmt.Errorf("counting cards: %w", err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM notes").Scan(&stats.TotalNotes); err != nil {
		return nil, fmt.Errorf("counting notes: %w", err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM revlog").Scan(&stats.TotalRevlog); err != nil {
		return nil, fmt.Errorf("counting revlog: %w", err)
	}

	names, err := deckNames(db)
	if err != nil {
		return nil, err
	}
	stats.TotalDecks = int64(len(names))

	rows, err := db.Query("SELECT did, COUNT(*) FROM cards GROUP BY did")
	if err != nil {
		return nil, fmt.Errorf("counting cards per deck: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var did, count int64
		if err := rows.Scan(&did, &count); err != nil {
			return nil, fmt.Errorf("scanning deck counts: %w", err)
		}
		name, ok := names[did]
		if !ok {
			name = fmt.Sprintf("Deck %d", did)
		}
		stats.DeckStats = append(stats.DeckStats, DeckStats{
			DeckID:    did,
			DeckName:  name,
			CardCount: count,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading deck counts: %w", err)
	}

	sort.Slice(stats.DeckStats, func(i, j int) bool {
		return stats.DeckStats[i].DeckName < stats.DeckStats[j].DeckName
	})

	return stats, nil
}

// deckNames tries the modern decks table first and falls back to the legacy
// col.decks JSON column. It fails only when both schemas are unreadable.
func deckNames(db *sql.DB) (map[int64]string, error) {
	names, modernErr := modernDeckNames(db)
	if modernErr == nil {
		return names, nil
	}

	names, legacyErr := legacyDeckNames(db)
	if legacyErr != nil {
		return nil, fmt.Errorf("reading deck names (modern: %v): %w", modernErr, legacyErr)
	}
	return names, nil
}

func modernDeckNames(db *sql.DB) (map[int64]string, error) {
	rows, err := db.Query("SELECT id, name FROM decks")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make(map[int64]string)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

func legacyDeckNames(db *sql.DB) (map[int64]string, error) {
	var raw string
	if err := db.QueryRow("SELECT decks FROM col LIMIT 1").Scan(&raw); err != nil {
		return nil, err
	}

	var decks map[string]struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(raw), &decks); err != nil {
		return nil, fmt.Errorf("parsing col.decks json: %w", err)
	}

	names := make(map[int64]string)
	for rawID, deck := range decks {
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil || deck.Name == "" {
			continue
		}
		names[id] = deck.Name
	}
	return names, nil
}
