package domain

import "time"

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Book is a document an owner is managing. Sections hang off it.
type Book struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Title      string    `json:"title"`
	Author     string    `json:"author,omitempty"`
	SourceType string    `json:"sourceType,omitempty"`
	SourceURL  string    `json:"sourceUrl,omitempty"`
	Language   string    `json:"language,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Section is an ordered sub-unit of a Book holding the raw text to be
// summarized. Sections never track an update time; only Books do.
type Section struct {
	ID          string    `json:"id"`
	BookID      string    `json:"bookId"`
	SectionType string    `json:"sectionType,omitempty"`
	OrderIndex  int       `json:"orderIndex"`
	Title       string    `json:"title,omitempty"`
	RawText     string    `json:"rawText"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Summary is a generated artifact for one Section, tagged by variant
// and language. Summaries are immutable once stored; several may exist
// per section and duplicates across variant+language are permitted.
type Summary struct {
	ID          string            `json:"id"`
	SectionID   string            `json:"sectionId"`
	Variant     string            `json:"variant,omitempty"`
	Language    string            `json:"language,omitempty"`
	SummaryText string            `json:"summaryText"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// SummarizeRequest is the event published when a section gains raw
// text, so an external summarizer can produce summaries for it.
type SummarizeRequest struct {
	SectionID   string    `json:"sectionId"`
	BookID      string    `json:"bookId"`
	Language    string    `json:"language,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}
