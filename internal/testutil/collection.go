package testutil

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// Deck describes one deck in a synthetic collection.
type Deck struct {
	ID    int64
	Name  string
	Cards int
}

// CollectionSpec describes a synthetic Anki collection to build for tests.
// With Legacy set, deck names live in the col.decks JSON column and no
// decks table is created, matching pre-2.1.28 collection files.
type CollectionSpec struct {
	Notes  int
	Revlog int
	Decks  []Deck
	Legacy bool
}

// BuildCollection writes a SQLite collection file matching spec and
// returns its bytes. Two calls with the same spec produce files with the
// same logical content but not necessarily identical bytes; use distinct
// specs when tests need distinct content hashes.
func BuildCollection(t *testing.T, spec CollectionSpec) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "collection.anki2")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("opening collection db: %v", err)
	}
	defer db.Close()

	stmts := []string{
		"CREATE TABLE cards (id INTEGER PRIMARY KEY, nid INTEGER, did INTEGER)",
		"CREATE TABLE notes (id INTEGER PRIMARY KEY, flds TEXT)",
		"CREATE TABLE revlog (id INTEGER PRIMARY KEY, cid INTEGER)",
		"CREATE TABLE col (id INTEGER PRIMARY KEY, decks TEXT)",
	}
	if !spec.Legacy {
		stmts = append(stmts, "CREATE TABLE decks (id INTEGER PRIMARY KEY, name TEXT)")
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("creating schema: %v", err)
		}
	}

	for i := 0; i < spec.Notes; i++ {
		if _, err := db.Exec("INSERT INTO notes (id, flds) VALUES (?, ?)", i+1, fmt.Sprintf("note %d", i+1)); err != nil {
			t.Fatalf("inserting note: %v", err)
		}
	}
	for i := 0; i < spec.Revlog; i++ {
		if _, err := db.Exec("INSERT INTO revlog (id, cid) VALUES (?, ?)", i+1, 1); err != nil {
			t.Fatalf("inserting revlog row: %v", err)
		}
	}

	cardID := int64(0)
	var legacyDecks []string
	for _, deck := range spec.Decks {
		for i := 0; i < deck.Cards; i++ {
			cardID++
			nid := (cardID-1)%int64(max(spec.Notes, 1)) + 1
			if _, err := db.Exec("INSERT INTO cards (id, nid, did) VALUES (?, ?, ?)", cardID, nid, deck.ID); err != nil {
				t.Fatalf("inserting card: %v", err)
			}
		}
		if spec.Legacy {
			legacyDecks = append(legacyDecks, fmt.Sprintf("%q:{\"name\":%q}", fmt.Sprint(deck.ID), deck.Name))
		} else {
			if _, err := db.Exec("INSERT INTO decks (id, name) VALUES (?, ?)", deck.ID, deck.Name); err != nil {
				t.Fatalf("inserting deck: %v", err)
			}
		}
	}

	decksJSON := "{}"
	if spec.Legacy {
		decksJSON = "{" + strings.Join(legacyDecks, ",") + "}"
	}
	if _, err := db.Exec("INSERT INTO col (id, decks) VALUES (1, ?)", decksJSON); err != nil {
		t.Fatalf("inserting col row: %v", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("closing collection db: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading collection file: %v", err)
	}
	return data
}
