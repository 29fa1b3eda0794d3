package store

import (
	"sync"

	"shelfnotes/internal/util"
	"shelfnotes/pkg/domain"
)

// MemoryStore keeps all rows in-process. Used in tests and local runs.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]domain.User // key: user ID
	email     map[string]string      // email -> user ID
	books     map[string]domain.Book
	sections  map[string]domain.Section
	summaries map[string][]domain.Summary // sectionID -> summaries
	bookOrder []string
	secOrder  []string
	sess      map[string]string // token -> user ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]domain.User),
		email:     make(map[string]string),
		books:     make(map[string]domain.Book),
		sections:  make(map[string]domain.Section),
		summaries: make(map[string][]domain.Summary),
		sess:      make(map[string]string),
	}
}

// SaveUser registers or replaces a user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// HasUserEmail checks if email exists.
func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.email[email]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// SaveBook stores or replaces a book and tracks insertion order.
func (m *MemoryStore) SaveBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.books[b.ID]; !exists {
		m.bookOrder = append(m.bookOrder, b.ID)
	}
	m.books[b.ID] = b
	return nil
}

// GetBookByOwner retrieves a book only when owned by userID.
func (m *MemoryStore) GetBookByOwner(id, userID string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	if !ok || b.UserID != userID {
		return domain.Book{}, false, nil
	}
	return b, true, nil
}

// ListBooksByOwner returns books filtered by owner in insertion order.
func (m *MemoryStore) ListBooksByOwner(userID string) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0, len(m.bookOrder))
	for _, id := range m.bookOrder {
		if b, ok := m.books[id]; ok && b.UserID == userID {
			res = append(res, b)
		}
	}
	return res, nil
}

// SaveSection stores or replaces a section.
func (m *MemoryStore) SaveSection(sec domain.Section) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sections[sec.ID]; !exists {
		m.secOrder = append(m.secOrder, sec.ID)
	}
	m.sections[sec.ID] = sec
	return nil
}

// GetSectionByBook retrieves a section only when it belongs to bookID.
func (m *MemoryStore) GetSectionByBook(id, bookID string) (domain.Section, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sec, ok := m.sections[id]
	if !ok || sec.BookID != bookID {
		return domain.Section{}, false, nil
	}
	return sec, true, nil
}

// ListSectionsByBook returns sections of a book in insertion order.
func (m *MemoryStore) ListSectionsByBook(bookID string) ([]domain.Section, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Section, 0, len(m.secOrder))
	for _, id := range m.secOrder {
		if sec, ok := m.sections[id]; ok && sec.BookID == bookID {
			res = append(res, sec)
		}
	}
	return res, nil
}

// DeleteSection removes a section row only.
func (m *MemoryStore) DeleteSection(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sections, id)
	filtered := m.secOrder[:0]
	for _, item := range m.secOrder {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.secOrder = filtered
	return nil
}

// SaveSummary appends a summary for its section.
func (m *MemoryStore) SaveSummary(sum domain.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[sum.SectionID] = append(m.summaries[sum.SectionID], sum)
	return nil
}

// ListSummariesBySection returns summaries in insertion order.
func (m *MemoryStore) ListSummariesBySection(sectionID string) ([]domain.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Summary, 0, len(m.summaries[sectionID]))
	res = append(res, m.summaries[sectionID]...)
	return res, nil
}

// DeleteSummariesBySection removes all summaries of a section.
func (m *MemoryStore) DeleteSummariesBySection(sectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.summaries, sectionID)
	return nil
}

// NewSession creates a session token for a user.
func (m *MemoryStore) NewSession(userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := util.NewID()
	m.sess[token] = userID
	return token, nil
}

// GetUserIDByToken resolves a token to its user ID.
func (m *MemoryStore) GetUserIDByToken(token string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uid, ok := m.sess[token]
	return uid, ok, nil
}

// DeleteSession removes a token mapping.
func (m *MemoryStore) DeleteSession(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sess, token)
	return nil
}
