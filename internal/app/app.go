package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"shelfnotes/internal/store"
	"shelfnotes/pkg/auth"
	"shelfnotes/pkg/domain"
	"shelfnotes/pkg/queue"
	"shelfnotes/pkg/storage"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	SessionTTL    time.Duration
	JWTSecret     string

	// Injectable for tests; built from the fields above when nil.
	Store     store.Store
	Sessions  store.SessionStore
	Objects   storage.ObjectStore
	Publisher queue.Publisher
}

// App is the entity access layer: every operation takes the resolved
// user id explicitly, verifies ownership by walking the
// summary->section->book->user chain, then runs the persistence call.
type App struct {
	store     store.Store
	sessions  store.SessionStore
	objects   storage.ObjectStore
	publisher queue.Publisher
}

// New constructs the application service.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 24 * time.Hour
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL is required")
		}
		gs, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		dataStore = gs
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		switch {
		case cfg.JWTSecret != "":
			sessionStore = store.NewJWTSessionStore(cfg.JWTSecret, cfg.SessionTTL)
		case cfg.RedisAddr != "":
			sessionStore = store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, cfg.SessionTTL)
		default:
			return nil, fmt.Errorf("session store required (jwtSecret or redisAddr)")
		}
	}

	return &App{
		store:     dataStore,
		sessions:  sessionStore,
		objects:   cfg.Objects,
		publisher: cfg.Publisher,
	}, nil
}

// SignUp registers a new user and issues a session token.
func (a *App) SignUp(email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return domain.User{}, "", validationf("email and password required")
	}
	exists, err := a.store.HasUserEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", validationf("email already exists")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// Login validates credentials and issues a session token.
func (a *App) Login(email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrUnauthorized
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// Logout removes a session token.
func (a *App) Logout(token string) error {
	return a.sessions.DeleteSession(token)
}

// ResolveUser maps a session token to the authenticated user.
// This is the identity step every other operation relies on; it runs
// before any entity access.
func (a *App) ResolveUser(token string) (domain.User, error) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, ErrUnauthorized
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil || !found {
		return domain.User{}, ErrUnauthorized
	}
	return user, nil
}

// verifyBookOwnership looks a book up by id and owner jointly.
// A mismatched owner and a missing row both come back as ErrNotFound,
// so existence never leaks to non-owners.
func (a *App) verifyBookOwnership(userID, bookID string) (domain.Book, error) {
	book, ok, err := a.store.GetBookByOwner(bookID, userID)
	if err != nil {
		return domain.Book{}, fmt.Errorf("fetch book: %w", err)
	}
	if !ok {
		return domain.Book{}, ErrNotFound
	}
	return book, nil
}

// verifySectionOwnership checks the book first, then the section by id
// and book jointly. Summary operations inherit ownership through this
// chain; sections and summaries carry no user column of their own.
func (a *App) verifySectionOwnership(userID, sectionID, bookID string) (domain.Section, error) {
	if _, err := a.verifyBookOwnership(userID, bookID); err != nil {
		return domain.Section{}, err
	}
	section, ok, err := a.store.GetSectionByBook(sectionID, bookID)
	if err != nil {
		return domain.Section{}, fmt.Errorf("fetch section: %w", err)
	}
	if !ok {
		return domain.Section{}, ErrNotFound
	}
	return section, nil
}

// CreateBookInput carries createBook fields; only Title is required.
type CreateBookInput struct {
	Title      string
	Author     string
	SourceType string
	SourceURL  string
	Language   string
	Notes      string
}

// CreateBook validates and stores a new book owned by userID.
func (a *App) CreateBook(userID string, in CreateBookInput) (domain.Book, error) {
	if strings.TrimSpace(in.Title) == "" {
		return domain.Book{}, validationf("title is required")
	}
	now := time.Now().UTC()
	book := domain.Book{
		ID:         uuid.NewString(),
		UserID:     userID,
		Title:      in.Title,
		Author:     in.Author,
		SourceType: in.SourceType,
		SourceURL:  in.SourceURL,
		Language:   in.Language,
		Notes:      in.Notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.store.SaveBook(book); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	return book, nil
}

// BookUpdate carries partial updateBook fields. A nil pointer means
// "leave unchanged"; a pointer to the empty string clears the field.
type BookUpdate struct {
	Title      *string
	Author     *string
	SourceType *string
	SourceURL  *string
	Language   *string
	Notes      *string
}

func (u BookUpdate) empty() bool {
	return u.Title == nil && u.Author == nil && u.SourceType == nil &&
		u.SourceURL == nil && u.Language == nil && u.Notes == nil
}

// UpdateBook applies the supplied fields to an owned book and
// refreshes UpdatedAt.
func (a *App) UpdateBook(userID, bookID string, upd BookUpdate) (domain.Book, error) {
	if upd.empty() {
		return domain.Book{}, validationf("at least one field is required")
	}
	if upd.Title != nil && strings.TrimSpace(*upd.Title) == "" {
		return domain.Book{}, validationf("title must not be empty")
	}
	book, err := a.verifyBookOwnership(userID, bookID)
	if err != nil {
		return domain.Book{}, err
	}
	if upd.Title != nil {
		book.Title = *upd.Title
	}
	if upd.Author != nil {
		book.Author = *upd.Author
	}
	if upd.SourceType != nil {
		book.SourceType = *upd.SourceType
	}
	if upd.SourceURL != nil {
		book.SourceURL = *upd.SourceURL
	}
	if upd.Language != nil {
		book.Language = *upd.Language
	}
	if upd.Notes != nil {
		book.Notes = *upd.Notes
	}
	book.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveBook(book); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	return book, nil
}

// ListBooks returns all books owned by userID.
func (a *App) ListBooks(userID string) ([]domain.Book, error) {
	books, err := a.store.ListBooksByOwner(userID)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// CreateSectionInput carries createSection fields; RawText is required.
// A nil OrderIndex picks the default of 1.
type CreateSectionInput struct {
	SectionType string
	OrderIndex  *int
	Title       string
	RawText     string
}

// CreateSection verifies book ownership, stores a new section, and
// publishes a summarize request for the external summarizer.
func (a *App) CreateSection(userID, bookID string, in CreateSectionInput) (domain.Section, error) {
	if strings.TrimSpace(in.RawText) == "" {
		return domain.Section{}, validationf("rawText is required")
	}
	book, err := a.verifyBookOwnership(userID, bookID)
	if err != nil {
		return domain.Section{}, err
	}
	orderIndex := 1
	if in.OrderIndex != nil {
		orderIndex = *in.OrderIndex
	}
	section := domain.Section{
		ID:          uuid.NewString(),
		BookID:      bookID,
		SectionType: in.SectionType,
		OrderIndex:  orderIndex,
		Title:       in.Title,
		RawText:     in.RawText,
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.store.SaveSection(section); err != nil {
		return domain.Section{}, fmt.Errorf("save section: %w", err)
	}
	a.requestSummaries(section, book.Language)
	return section, nil
}

// SectionUpdate carries partial updateSection fields; nil means
// "leave unchanged".
type SectionUpdate struct {
	SectionType *string
	OrderIndex  *int
	Title       *string
	RawText     *string
}

func (u SectionUpdate) empty() bool {
	return u.SectionType == nil && u.OrderIndex == nil && u.Title == nil && u.RawText == nil
}

// UpdateSection applies the supplied fields to an owned section.
// Sections deliberately carry no update timestamp.
func (a *App) UpdateSection(userID, sectionID, bookID string, upd SectionUpdate) (domain.Section, error) {
	if upd.empty() {
		return domain.Section{}, validationf("at least one field is required")
	}
	if upd.RawText != nil && strings.TrimSpace(*upd.RawText) == "" {
		return domain.Section{}, validationf("rawText must not be empty")
	}
	section, err := a.verifySectionOwnership(userID, sectionID, bookID)
	if err != nil {
		return domain.Section{}, err
	}
	if upd.SectionType != nil {
		section.SectionType = *upd.SectionType
	}
	if upd.OrderIndex != nil {
		section.OrderIndex = *upd.OrderIndex
	}
	if upd.Title != nil {
		section.Title = *upd.Title
	}
	if upd.RawText != nil {
		section.RawText = *upd.RawText
	}
	if err := a.store.SaveSection(section); err != nil {
		return domain.Section{}, fmt.Errorf("save section: %w", err)
	}
	return section, nil
}

// DeleteSection removes an owned section, then its summaries. The two
// deletes are sequential statements without a wrapping transaction; a
// failure between them can leave orphaned summary rows.
func (a *App) DeleteSection(userID, sectionID, bookID string) error {
	if _, err := a.verifySectionOwnership(userID, sectionID, bookID); err != nil {
		return err
	}
	if err := a.store.DeleteSection(sectionID); err != nil {
		return fmt.Errorf("delete section: %w", err)
	}
	if err := a.store.DeleteSummariesBySection(sectionID); err != nil {
		return fmt.Errorf("delete summaries: %w", err)
	}
	return nil
}

// ListSections returns all sections of an owned book.
func (a *App) ListSections(userID, bookID string) ([]domain.Section, error) {
	if _, err := a.verifyBookOwnership(userID, bookID); err != nil {
		return nil, err
	}
	sections, err := a.store.ListSectionsByBook(bookID)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	return sections, nil
}

// CreateSummaryInput carries createSummary fields; SummaryText is
// required, everything else is optional labeling from the summarizer.
type CreateSummaryInput struct {
	Variant     string
	Language    string
	SummaryText string
	Metadata    map[string]string
}

// CreateSummary stores a generated summary under an owned section.
// Summaries are immutable and duplicates per variant+language are
// allowed; each call inserts a fresh row.
func (a *App) CreateSummary(userID, sectionID, bookID string, in CreateSummaryInput) (domain.Summary, error) {
	if strings.TrimSpace(in.SummaryText) == "" {
		return domain.Summary{}, validationf("summaryText is required")
	}
	if _, err := a.verifySectionOwnership(userID, sectionID, bookID); err != nil {
		return domain.Summary{}, err
	}
	summary := domain.Summary{
		ID:          uuid.NewString(),
		SectionID:   sectionID,
		Variant:     in.Variant,
		Language:    in.Language,
		SummaryText: in.SummaryText,
		Metadata:    in.Metadata,
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.store.SaveSummary(summary); err != nil {
		return domain.Summary{}, fmt.Errorf("save summary: %w", err)
	}
	return summary, nil
}

// ListSummaries returns all summaries of an owned section.
func (a *App) ListSummaries(userID, sectionID, bookID string) ([]domain.Summary, error) {
	if _, err := a.verifySectionOwnership(userID, sectionID, bookID); err != nil {
		return nil, err
	}
	summaries, err := a.store.ListSummariesBySection(sectionID)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	return summaries, nil
}

// AttachBookSource uploads the original document of an owned book to
// object storage and records its type and location on the book row.
func (a *App) AttachBookSource(ctx context.Context, userID, bookID, filename string, r io.Reader, size int64) (domain.Book, error) {
	if a.objects == nil {
		return domain.Book{}, validationf("object storage is not configured")
	}
	if strings.TrimSpace(filename) == "" {
		return domain.Book{}, validationf("filename is required")
	}
	book, err := a.verifyBookOwnership(userID, bookID)
	if err != nil {
		return domain.Book{}, err
	}
	base := filepath.Base(filename)
	key := fmt.Sprintf("books/%s/source/%s", bookID, base)
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(base)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := a.objects.Put(ctx, key, r, size, contentType); err != nil {
		return domain.Book{}, fmt.Errorf("store source file: %w", err)
	}
	book.SourceType = strings.TrimPrefix(strings.ToLower(filepath.Ext(base)), ".")
	book.SourceURL = key
	book.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveBook(book); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	return book, nil
}

// SourceDownloadURL returns a pre-signed URL for an owned book's
// attached source file.
func (a *App) SourceDownloadURL(ctx context.Context, userID, bookID string) (string, error) {
	if a.objects == nil {
		return "", validationf("object storage is not configured")
	}
	book, err := a.verifyBookOwnership(userID, bookID)
	if err != nil {
		return "", err
	}
	if book.SourceURL == "" {
		return "", ErrNotFound
	}
	url, err := a.objects.PresignGet(ctx, book.SourceURL, 15*time.Minute)
	if err != nil {
		return "", fmt.Errorf("presign source: %w", err)
	}
	return url, nil
}

// ImportSection extracts plain text from an uploaded file and creates
// a section from it. Supported inputs: pdf, html, plain text.
func (a *App) ImportSection(userID, bookID, filename string, data []byte) (domain.Section, error) {
	text, err := extractText(filename, data)
	if err != nil {
		return domain.Section{}, validationf("extract text: %v", err)
	}
	title := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	return a.CreateSection(userID, bookID, CreateSectionInput{
		Title:   title,
		RawText: text,
	})
}

// requestSummaries emits a summarize-request event. Best effort: a
// publish failure is logged and never fails the section write.
func (a *App) requestSummaries(section domain.Section, language string) {
	if a.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := a.publisher.Publish(ctx, domain.SummarizeRequest{
		SectionID:   section.ID,
		BookID:      section.BookID,
		Language:    language,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("failed to publish summarize request", "section_id", section.ID, "err", err)
	}
}
