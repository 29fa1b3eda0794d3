package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"shelfnotes/internal/store"
	"shelfnotes/pkg/domain"
)

func newTestApp(t *testing.T) (*App, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	a, err := New(Config{Store: mem, Sessions: mem})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, mem
}

func mustUser(t *testing.T, a *App, email string) domain.User {
	t.Helper()
	user, _, err := a.SignUp(email, "pw-123456")
	if err != nil {
		t.Fatalf("sign up %s: %v", email, err)
	}
	return user
}

func mustBook(t *testing.T, a *App, userID, title string) domain.Book {
	t.Helper()
	book, err := a.CreateBook(userID, CreateBookInput{Title: title})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	return book
}

func mustSection(t *testing.T, a *App, userID, bookID, rawText string) domain.Section {
	t.Helper()
	section, err := a.CreateSection(userID, bookID, CreateSectionInput{RawText: rawText})
	if err != nil {
		t.Fatalf("create section: %v", err)
	}
	return section
}

func strptr(s string) *string { return &s }
func intptr(n int) *int       { return &n }

func TestSignUpLoginAndResolve(t *testing.T) {
	a, _ := newTestApp(t)
	user, token, err := a.SignUp("reader@example.com", "pw-123456")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	resolved, err := a.ResolveUser(token)
	if err != nil {
		t.Fatalf("resolve user: %v", err)
	}
	if resolved.ID != user.ID {
		t.Fatalf("resolved %q, want %q", resolved.ID, user.ID)
	}

	if _, _, err := a.Login("reader@example.com", "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong password expected ErrUnauthorized, got %v", err)
	}
	_, loginToken, err := a.Login("reader@example.com", "pw-123456")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := a.Logout(loginToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := a.ResolveUser(loginToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("logged-out token expected ErrUnauthorized, got %v", err)
	}
}

func TestResolveUserRejectsUnknownToken(t *testing.T) {
	a, _ := newTestApp(t)
	if _, err := a.ResolveUser("no-such-token"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCreateBookGeneratesUniqueIDs(t *testing.T) {
	a, _ := newTestApp(t)
	user := mustUser(t, a, "u@example.com")

	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		book, err := a.CreateBook(user.ID, CreateBookInput{Title: fmt.Sprintf("Book %d", i)})
		if err != nil {
			t.Fatalf("create book %d: %v", i, err)
		}
		if book.ID == "" {
			t.Fatalf("book %d has empty id", i)
		}
		if _, dup := seen[book.ID]; dup {
			t.Fatalf("duplicate id %q", book.ID)
		}
		seen[book.ID] = struct{}{}
		if book.UserID != user.ID {
			t.Fatalf("book owner = %q, want %q", book.UserID, user.ID)
		}
	}
	books, err := a.ListBooks(user.ID)
	if err != nil {
		t.Fatalf("list books: %v", err)
	}
	if len(books) != 20 {
		t.Fatalf("expected 20 books, got %d", len(books))
	}
}

func TestCreateBookRequiresTitle(t *testing.T) {
	a, _ := newTestApp(t)
	user := mustUser(t, a, "u@example.com")
	_, err := a.CreateBook(user.ID, CreateBookInput{Title: "   "})
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	books, _ := a.ListBooks(user.ID)
	if len(books) != 0 {
		t.Fatalf("failed create must not write, got %d books", len(books))
	}
}

func TestUpdateBookPartialFields(t *testing.T) {
	a, _ := newTestApp(t)
	user := mustUser(t, a, "u@example.com")
	book, err := a.CreateBook(user.ID, CreateBookInput{
		Title:  "Moby Dick",
		Author: "Herman Melville",
		Notes:  "first pass",
	})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}

	updated, err := a.UpdateBook(user.ID, book.ID, BookUpdate{Notes: strptr("revised")})
	if err != nil {
		t.Fatalf("update book: %v", err)
	}
	if updated.Notes != "revised" {
		t.Fatalf("notes = %q, want revised", updated.Notes)
	}
	if updated.Title != "Moby Dick" || updated.Author != "Herman Melville" {
		t.Fatalf("untouched fields changed: %+v", updated)
	}
	if updated.UpdatedAt.Before(book.UpdatedAt) {
		t.Fatalf("updatedAt went backwards")
	}
	if !updated.CreatedAt.Equal(book.CreatedAt) {
		t.Fatalf("createdAt must be immutable")
	}
}

func TestUpdateBookDistinguishesEmptyFromOmitted(t *testing.T) {
	a, _ := newTestApp(t)
	user := mustUser(t, a, "u@example.com")
	book, err := a.CreateBook(user.ID, CreateBookInput{Title: "T", Author: "A", Notes: "N"})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	// Explicit empty clears; omitted stays.
	updated, err := a.UpdateBook(user.ID, book.ID, BookUpdate{Author: strptr("")})
	if err != nil {
		t.Fatalf("update book: %v", err)
	}
	if updated.Author != "" {
		t.Fatalf("author should be cleared, got %q", updated.Author)
	}
	if updated.Notes != "N" {
		t.Fatalf("omitted notes should stay, got %q", updated.Notes)
	}
}

func TestUpdateBookRequiresAtLeastOneField(t *testing.T) {
	a, _ := newTestApp(t)
	user := mustUser(t, a, "u@example.com")
	book := mustBook(t, a, user.ID, "T")

	_, err := a.UpdateBook(user.ID, book.ID, BookUpdate{})
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	books, _ := a.ListBooks(user.ID)
	if !books[0].UpdatedAt.Equal(book.UpdatedAt) {
		t.Fatalf("failed update must not write")
	}
}

func TestUpdateBookRejectsEmptyTitle(t *testing.T) {
	a, _ := newTestApp(t)
	user := mustUser(t, a, "u@example.com")
	book := mustBook(t, a, user.ID, "T")
	if _, err := a.UpdateBook(user.ID, book.ID, BookUpdate{Title: strptr(" ")}); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOwnershipHidesEntitiesFromOtherUsers(t *testing.T) {
	a, _ := newTestApp(t)
	owner := mustUser(t, a, "owner@example.com")
	intruder := mustUser(t, a, "intruder@example.com")
	book := mustBook(t, a, owner.ID, "Private")
	section := mustSection(t, a, owner.ID, book.ID, "text")

	if _, err := a.UpdateBook(intruder.ID, book.ID, BookUpdate{Title: strptr("X")}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update as non-owner expected ErrNotFound, got %v", err)
	}
	if _, err := a.ListSections(intruder.ID, book.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("list sections as non-owner expected ErrNotFound, got %v", err)
	}
	if _, err := a.CreateSection(intruder.ID, book.ID, CreateSectionInput{RawText: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("create section as non-owner expected ErrNotFound, got %v", err)
	}
	if _, err := a.CreateSummary(intruder.ID, section.ID, book.ID, CreateSummaryInput{SummaryText: "s"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("create summary as non-owner expected ErrNotFound, got %v", err)
	}
	if err := a.DeleteSection(intruder.ID, section.ID, book.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete section as non-owner expected ErrNotFound, got %v", err)
	}
	// Owner is unaffected.
	sections, err := a.ListSections(owner.ID, book.ID)
	if err != nil || len(sections) != 1 {
		t.Fatalf("owner list sections: %v (%d)", err, len(sections))
	}
}

func TestSectionOwnershipRequiresMatchingBook(t *testing.T) {
	a, _ := newTestApp(t)
	user := mustUser(t, a, "u@example.com")
	bookA := mustBook(t, a, user.ID, "A")
	bookB := mustBook(t, a, user.ID, "B")
	section := mustSection(t, a, user.ID, bookA.ID, "text")

	// Correct owner, wrong parent book: the joint lookup must miss.
	if _, err := a.ListSummaries(user.ID, section.ID, bookB.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("mismatched book expected ErrNotFound, got %v", err)
	}
}

func TestCreateSectionDefaultsAndValidation(t *testing.T) {
	a, _ := newTestApp(t)
	user := mustUser(t, a, "u@example.com")
	book := mustBook(t, a, user.ID, "T")

	section := mustSection(t, a, user.ID, book.ID, "Call me Ishmael")
	if section.OrderIndex != 1 {
		t.Fatalf("default orderIndex = %d, want 1", section.OrderIndex)
	}

	withIndex, err := a.CreateSection(user.ID, book.ID, CreateSectionInput{
		RawText:     "chapter two",
		OrderIndex:  intptr(7),
		SectionType: "chapter",
	})
	if err != nil {
		t.Fatalf("create section: %v", err)
	}
	if withIndex.OrderIndex != 7 || withIndex.SectionType != "chapter" {
		t.Fatalf("explicit fields lost: %+v", withIndex)
	}

	if _, err := a.CreateSection(user.ID, book.ID, CreateSectionInput{RawText: "  "}); !IsValidation(err) {
		t.Fatalf("empty rawText expected validation error, got %v", err)
	}
}

func TestUpdateSectionPartialFields(t *testing.T) {
	a, _ := newTestApp(t)
	user := mustUser(t, a, "u@example.com")
	book := mustBook(t, a, user.ID, "T")
	section := mustSection(t, a, user.ID, book.ID, "original text")

	updated, err := a.UpdateSection(user.ID, section.ID, book.ID, SectionUpdate{Title: strptr("Chapter 1")})
	if err != nil {
		t.Fatalf("update section: %v", err)
	}
	if updated.Title != "Chapter 1" || updated.RawText != "original text" {
		t.Fatalf("partial update wrong: %+v", updated)
	}

	if _, err := a.UpdateSection(user.ID, section.ID, book.ID, SectionUpdate{}); !IsValidation(err) {
		t.Fatalf("no fields expected validation error, got %v", err)
	}
	if _, err := a.UpdateSection(user.ID, section.ID, book.ID, SectionUpdate{RawText: strptr("")}); !IsValidation(err) {
		t.Fatalf("empty rawText expected validation error, got %v", err)
	}
}

func TestDeleteSectionCascades(t *testing.T) {
	for _, count := range []int{0, 1, 5} {
		t.Run(fmt.Sprintf("summaries=%d", count), func(t *testing.T) {
			a, mem := newTestApp(t)
			user := mustUser(t, a, "u@example.com")
			book := mustBook(t, a, user.ID, "T")
			section := mustSection(t, a, user.ID, book.ID, "text")

			for i := 0; i < count; i++ {
				if _, err := a.CreateSummary(user.ID, section.ID, book.ID, CreateSummaryInput{
					SummaryText: fmt.Sprintf("summary %d", i),
					Variant:     "short",
				}); err != nil {
					t.Fatalf("create summary %d: %v", i, err)
				}
			}

			if err := a.DeleteSection(user.ID, section.ID, book.ID); err != nil {
				t.Fatalf("delete section: %v", err)
			}
			// Section lookup now fails, so dependent reads report NOT_FOUND.
			if _, err := a.ListSummaries(user.ID, section.ID, book.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("list summaries after delete expected ErrNotFound, got %v", err)
			}
			// And the rows themselves are gone.
			rows, err := mem.ListSummariesBySection(section.ID)
			if err != nil {
				t.Fatalf("raw list: %v", err)
			}
			if len(rows) != 0 {
				t.Fatalf("expected 0 summary rows, got %d", len(rows))
			}
		})
	}
}

func TestListOperationsAreIdempotent(t *testing.T) {
	a, _ := newTestApp(t)
	user := mustUser(t, a, "u@example.com")
	book := mustBook(t, a, user.ID, "T")
	for i := 0; i < 3; i++ {
		mustSection(t, a, user.ID, book.ID, fmt.Sprintf("text %d", i))
	}

	first, err := a.ListSections(user.ID, book.ID)
	if err != nil {
		t.Fatalf("first list: %v", err)
	}
	second, err := a.ListSections(user.ID, book.ID)
	if err != nil {
		t.Fatalf("second list: %v", err)
	}
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected 3 sections both times, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("list order changed between calls")
		}
	}
}

func TestCreateSummaryAllowsDuplicateVariantLanguage(t *testing.T) {
	a, _ := newTestApp(t)
	user := mustUser(t, a, "u@example.com")
	book := mustBook(t, a, user.ID, "T")
	section := mustSection(t, a, user.ID, book.ID, "text")

	for i := 0; i < 2; i++ {
		if _, err := a.CreateSummary(user.ID, section.ID, book.ID, CreateSummaryInput{
			SummaryText: "same labels",
			Variant:     "short",
			Language:    "en",
		}); err != nil {
			t.Fatalf("create summary %d: %v", i, err)
		}
	}
	summaries, err := a.ListSummaries(user.ID, section.ID, book.ID)
	if err != nil {
		t.Fatalf("list summaries: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].ID == summaries[1].ID {
		t.Fatalf("summaries must have distinct ids")
	}
}

func TestCreateSummaryRequiresText(t *testing.T) {
	a, _ := newTestApp(t)
	user := mustUser(t, a, "u@example.com")
	book := mustBook(t, a, user.ID, "T")
	section := mustSection(t, a, user.ID, book.ID, "text")
	if _, err := a.CreateSummary(user.ID, section.ID, book.ID, CreateSummaryInput{}); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// Mirrors the end-to-end flow: create, cross-user denial, section,
// summary, list, cascade delete.
func TestBookSectionSummaryLifecycle(t *testing.T) {
	a, _ := newTestApp(t)
	u1 := mustUser(t, a, "u1@example.com")
	u2 := mustUser(t, a, "u2@example.com")

	book, err := a.CreateBook(u1.ID, CreateBookInput{Title: "Moby Dick"})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	if book.UserID != u1.ID {
		t.Fatalf("owner = %q, want %q", book.UserID, u1.ID)
	}

	if _, err := a.UpdateBook(u2.ID, book.ID, BookUpdate{Title: strptr("X")}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("u2 update expected ErrNotFound, got %v", err)
	}

	section, err := a.CreateSection(u1.ID, book.ID, CreateSectionInput{RawText: "Call me Ishmael"})
	if err != nil {
		t.Fatalf("create section: %v", err)
	}
	if section.OrderIndex != 1 {
		t.Fatalf("orderIndex = %d, want 1", section.OrderIndex)
	}

	summary, err := a.CreateSummary(u1.ID, section.ID, book.ID, CreateSummaryInput{
		SummaryText: "A sailor's tale",
		Variant:     "short",
	})
	if err != nil {
		t.Fatalf("create summary: %v", err)
	}
	if summary.SectionID != section.ID {
		t.Fatalf("summary.sectionId = %q, want %q", summary.SectionID, section.ID)
	}

	summaries, err := a.ListSummaries(u1.ID, section.ID, book.ID)
	if err != nil || len(summaries) != 1 {
		t.Fatalf("list summaries: %v (%d)", err, len(summaries))
	}

	if err := a.DeleteSection(u1.ID, section.ID, book.ID); err != nil {
		t.Fatalf("delete section: %v", err)
	}
	if _, err := a.ListSummaries(u1.ID, section.ID, book.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("list summaries after delete expected ErrNotFound, got %v", err)
	}
}

type capturePublisher struct {
	requests []domain.SummarizeRequest
}

func (p *capturePublisher) Publish(_ context.Context, req domain.SummarizeRequest) error {
	p.requests = append(p.requests, req)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func TestCreateSectionPublishesSummarizeRequest(t *testing.T) {
	mem := store.NewMemoryStore()
	pub := &capturePublisher{}
	a, err := New(Config{Store: mem, Sessions: mem, Publisher: pub})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	user := mustUser(t, a, "u@example.com")
	book, err := a.CreateBook(user.ID, CreateBookInput{Title: "T", Language: "en"})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	section := mustSection(t, a, user.ID, book.ID, "text")

	if len(pub.requests) != 1 {
		t.Fatalf("expected 1 summarize request, got %d", len(pub.requests))
	}
	req := pub.requests[0]
	if req.SectionID != section.ID || req.BookID != book.ID || req.Language != "en" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, domain.SummarizeRequest) error {
	return errors.New("broker down")
}

func (failingPublisher) Close() error { return nil }

func TestCreateSectionSurvivesPublishFailure(t *testing.T) {
	mem := store.NewMemoryStore()
	a, err := New(Config{Store: mem, Sessions: mem, Publisher: failingPublisher{}})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	user := mustUser(t, a, "u@example.com")
	book := mustBook(t, a, user.ID, "T")
	section := mustSection(t, a, user.ID, book.ID, "text")

	sections, err := a.ListSections(user.ID, book.ID)
	if err != nil || len(sections) != 1 || sections[0].ID != section.ID {
		t.Fatalf("section should persist despite publish failure: %v (%d)", err, len(sections))
	}
}

type memObjectStore struct {
	objects map[string][]byte
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{objects: make(map[string][]byte)}
}

func (m *memObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *memObjectStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	if _, ok := m.objects[key]; !ok {
		return "", errors.New("object missing")
	}
	return "https://objects.test/" + key, nil
}

func (m *memObjectStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func TestAttachBookSourceAndDownloadURL(t *testing.T) {
	mem := store.NewMemoryStore()
	objects := newMemObjectStore()
	a, err := New(Config{Store: mem, Sessions: mem, Objects: objects})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	user := mustUser(t, a, "u@example.com")
	book := mustBook(t, a, user.ID, "T")

	updated, err := a.AttachBookSource(context.Background(), user.ID, book.ID, "melville.pdf", bytes.NewReader([]byte("%PDF...")), 7)
	if err != nil {
		t.Fatalf("attach source: %v", err)
	}
	if updated.SourceType != "pdf" {
		t.Fatalf("sourceType = %q, want pdf", updated.SourceType)
	}
	if updated.SourceURL == "" {
		t.Fatalf("sourceUrl should be set")
	}
	if _, ok := objects.objects[updated.SourceURL]; !ok {
		t.Fatalf("object not stored under %q", updated.SourceURL)
	}

	url, err := a.SourceDownloadURL(context.Background(), user.ID, book.ID)
	if err != nil {
		t.Fatalf("source download url: %v", err)
	}
	if !strings.Contains(url, updated.SourceURL) {
		t.Fatalf("url %q should reference stored key", url)
	}

	other := mustUser(t, a, "other@example.com")
	if _, err := a.SourceDownloadURL(context.Background(), other.ID, book.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("non-owner expected ErrNotFound, got %v", err)
	}
}

func TestSourceDownloadURLWithoutAttachment(t *testing.T) {
	mem := store.NewMemoryStore()
	a, err := New(Config{Store: mem, Sessions: mem, Objects: newMemObjectStore()})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	user := mustUser(t, a, "u@example.com")
	book := mustBook(t, a, user.ID, "T")
	if _, err := a.SourceDownloadURL(context.Background(), user.ID, book.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAttachBookSourceRequiresObjectStore(t *testing.T) {
	a, _ := newTestApp(t)
	user := mustUser(t, a, "u@example.com")
	book := mustBook(t, a, user.ID, "T")
	_, err := a.AttachBookSource(context.Background(), user.ID, book.ID, "f.txt", bytes.NewReader(nil), 0)
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestImportSectionFromHTML(t *testing.T) {
	a, _ := newTestApp(t)
	user := mustUser(t, a, "u@example.com")
	book := mustBook(t, a, user.ID, "T")

	page := []byte("<html><head><style>p{}</style></head><body><p>Call me</p><p>Ishmael.</p><script>x()</script></body></html>")
	section, err := a.ImportSection(user.ID, book.ID, "chapter-1.html", page)
	if err != nil {
		t.Fatalf("import section: %v", err)
	}
	if section.Title != "chapter-1" {
		t.Fatalf("title = %q, want chapter-1", section.Title)
	}
	if !strings.Contains(section.RawText, "Call me") || !strings.Contains(section.RawText, "Ishmael.") {
		t.Fatalf("rawText missing body text: %q", section.RawText)
	}
	if strings.Contains(section.RawText, "x()") {
		t.Fatalf("script content leaked into rawText: %q", section.RawText)
	}
}

func TestImportSectionFromPlainText(t *testing.T) {
	a, _ := newTestApp(t)
	user := mustUser(t, a, "u@example.com")
	book := mustBook(t, a, user.ID, "T")

	section, err := a.ImportSection(user.ID, book.ID, "notes.txt", []byte("  line one\nline two  "))
	if err != nil {
		t.Fatalf("import section: %v", err)
	}
	if section.RawText != "line one line two" {
		t.Fatalf("rawText = %q", section.RawText)
	}
}

func TestImportSectionRejectsEmptyFile(t *testing.T) {
	a, _ := newTestApp(t)
	user := mustUser(t, a, "u@example.com")
	book := mustBook(t, a, user.ID, "T")
	if _, err := a.ImportSection(user.ID, book.ID, "empty.txt", []byte("   ")); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
