package store

import "shelfnotes/pkg/domain"

// Store defines persistence operations for users, books, sections, and
// summaries. Lookups that drive ownership checks filter by both the
// entity id and its parent reference in a single query, so a missing
// row and a row owned by someone else are indistinguishable.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)

	// books
	SaveBook(domain.Book) error
	GetBookByOwner(id, userID string) (domain.Book, bool, error)
	ListBooksByOwner(userID string) ([]domain.Book, error)

	// sections
	SaveSection(domain.Section) error
	GetSectionByBook(id, bookID string) (domain.Section, bool, error)
	ListSectionsByBook(bookID string) ([]domain.Section, error)
	DeleteSection(id string) error

	// summaries
	SaveSummary(domain.Summary) error
	ListSummariesBySection(sectionID string) ([]domain.Summary, error)
	DeleteSummariesBySection(sectionID string) error
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
