package store

import (
	"testing"

	"shelfnotes/pkg/domain"
)

func TestMemoryStoreJointLookups(t *testing.T) {
	m := NewMemoryStore()
	if err := m.SaveBook(domain.Book{ID: "b1", UserID: "u1", Title: "T"}); err != nil {
		t.Fatalf("save book: %v", err)
	}
	if err := m.SaveSection(domain.Section{ID: "s1", BookID: "b1", RawText: "x"}); err != nil {
		t.Fatalf("save section: %v", err)
	}

	if _, ok, _ := m.GetBookByOwner("b1", "u1"); !ok {
		t.Fatalf("owner lookup should hit")
	}
	if _, ok, _ := m.GetBookByOwner("b1", "u2"); ok {
		t.Fatalf("wrong owner must miss")
	}
	if _, ok, _ := m.GetSectionByBook("s1", "b1"); !ok {
		t.Fatalf("section lookup should hit")
	}
	if _, ok, _ := m.GetSectionByBook("s1", "b2"); ok {
		t.Fatalf("wrong book must miss")
	}
}

func TestMemoryStoreListOrdering(t *testing.T) {
	m := NewMemoryStore()
	for _, id := range []string{"b1", "b2", "b3"} {
		if err := m.SaveBook(domain.Book{ID: id, UserID: "u1"}); err != nil {
			t.Fatalf("save book %s: %v", id, err)
		}
	}
	// Replacing a row must not move it.
	if err := m.SaveBook(domain.Book{ID: "b1", UserID: "u1", Title: "renamed"}); err != nil {
		t.Fatalf("replace book: %v", err)
	}
	books, err := m.ListBooksByOwner("u1")
	if err != nil {
		t.Fatalf("list books: %v", err)
	}
	if len(books) != 3 || books[0].ID != "b1" || books[2].ID != "b3" {
		t.Fatalf("unexpected order: %+v", books)
	}
	if books[0].Title != "renamed" {
		t.Fatalf("replacement not applied")
	}
}

func TestMemoryStoreDeleteSectionAndSummaries(t *testing.T) {
	m := NewMemoryStore()
	if err := m.SaveSection(domain.Section{ID: "s1", BookID: "b1"}); err != nil {
		t.Fatalf("save section: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := m.SaveSummary(domain.Summary{ID: string(rune('a' + i)), SectionID: "s1"}); err != nil {
			t.Fatalf("save summary: %v", err)
		}
	}

	if err := m.DeleteSection("s1"); err != nil {
		t.Fatalf("delete section: %v", err)
	}
	if _, ok, _ := m.GetSectionByBook("s1", "b1"); ok {
		t.Fatalf("section should be gone")
	}
	// Summary rows survive the section delete and need their own call.
	rows, _ := m.ListSummariesBySection("s1")
	if len(rows) != 3 {
		t.Fatalf("summaries should remain until deleted, got %d", len(rows))
	}
	if err := m.DeleteSummariesBySection("s1"); err != nil {
		t.Fatalf("delete summaries: %v", err)
	}
	rows, _ = m.ListSummariesBySection("s1")
	if len(rows) != 0 {
		t.Fatalf("expected 0 summaries, got %d", len(rows))
	}
}

func TestMemoryStoreSessions(t *testing.T) {
	m := NewMemoryStore()
	token, err := m.NewSession("u1")
	if err != nil || token == "" {
		t.Fatalf("new session: %v (%q)", err, token)
	}
	uid, ok, _ := m.GetUserIDByToken(token)
	if !ok || uid != "u1" {
		t.Fatalf("resolve token: ok=%v uid=%q", ok, uid)
	}
	if err := m.DeleteSession(token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, _ := m.GetUserIDByToken(token); ok {
		t.Fatalf("deleted token should miss")
	}
}
