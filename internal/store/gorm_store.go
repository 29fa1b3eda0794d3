package store

import (
	"encoding/json"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"shelfnotes/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&UserModel{}, &BookModel{}, &SectionModel{}, &SummaryModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "password_hash"}),
	}).Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SaveBook stores or updates a book.
func (s *GormStore) SaveBook(b domain.Book) error {
	model := bookToModel(b)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "author", "source_type", "source_url", "language", "notes", "updated_at"}),
	}).Create(&model).Error
}

// GetBookByOwner retrieves a book filtered by id and owner in one query.
func (s *GormStore) GetBookByOwner(id, userID string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooksByOwner returns books filtered by owner, oldest first.
func (s *GormStore) ListBooksByOwner(userID string) ([]domain.Book, error) {
	var models []BookModel
	if err := s.db.Order("created_at ASC").Where("user_id = ?", userID).Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// SaveSection stores or updates a section.
func (s *GormStore) SaveSection(sec domain.Section) error {
	model := sectionToModel(sec)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"section_type", "order_index", "title", "raw_text"}),
	}).Create(&model).Error
}

// GetSectionByBook retrieves a section filtered by id and book in one query.
func (s *GormStore) GetSectionByBook(id, bookID string) (domain.Section, bool, error) {
	var model SectionModel
	if err := s.db.First(&model, "id = ? AND book_id = ?", id, bookID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Section{}, false, nil
		}
		return domain.Section{}, false, err
	}
	return sectionFromModel(model), true, nil
}

// ListSectionsByBook returns sections of a book in reading order.
func (s *GormStore) ListSectionsByBook(bookID string) ([]domain.Section, error) {
	var models []SectionModel
	if err := s.db.Order("order_index ASC, created_at ASC").Where("book_id = ?", bookID).Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Section, 0, len(models))
	for _, m := range models {
		res = append(res, sectionFromModel(m))
	}
	return res, nil
}

// DeleteSection removes a section row. Dependent summaries are removed
// by a separate DeleteSummariesBySection call.
func (s *GormStore) DeleteSection(id string) error {
	return s.db.Delete(&SectionModel{}, "id = ?", id).Error
}

// SaveSummary stores a summary. Summaries are never updated in place.
func (s *GormStore) SaveSummary(sum domain.Summary) error {
	model, err := summaryToModel(sum)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// ListSummariesBySection returns summaries for a section, oldest first.
func (s *GormStore) ListSummariesBySection(sectionID string) ([]domain.Summary, error) {
	var models []SummaryModel
	if err := s.db.Order("created_at ASC").Where("section_id = ?", sectionID).Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Summary, 0, len(models))
	for _, m := range models {
		sum, err := summaryFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, sum)
	}
	return res, nil
}

// DeleteSummariesBySection removes all summaries of a section.
// A zero-row delete is not an error.
func (s *GormStore) DeleteSummariesBySection(sectionID string) error {
	return s.db.Delete(&SummaryModel{}, "section_id = ?", sectionID).Error
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:         b.ID,
		UserID:     b.UserID,
		Title:      b.Title,
		Author:     b.Author,
		SourceType: b.SourceType,
		SourceURL:  b.SourceURL,
		Language:   b.Language,
		Notes:      b.Notes,
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:         m.ID,
		UserID:     m.UserID,
		Title:      m.Title,
		Author:     m.Author,
		SourceType: m.SourceType,
		SourceURL:  m.SourceURL,
		Language:   m.Language,
		Notes:      m.Notes,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func sectionToModel(sec domain.Section) SectionModel {
	return SectionModel{
		ID:          sec.ID,
		BookID:      sec.BookID,
		SectionType: sec.SectionType,
		OrderIndex:  sec.OrderIndex,
		Title:       sec.Title,
		RawText:     sec.RawText,
		CreatedAt:   sec.CreatedAt,
	}
}

func sectionFromModel(m SectionModel) domain.Section {
	return domain.Section{
		ID:          m.ID,
		BookID:      m.BookID,
		SectionType: m.SectionType,
		OrderIndex:  m.OrderIndex,
		Title:       m.Title,
		RawText:     m.RawText,
		CreatedAt:   m.CreatedAt,
	}
}

func summaryToModel(sum domain.Summary) (SummaryModel, error) {
	model := SummaryModel{
		ID:          sum.ID,
		SectionID:   sum.SectionID,
		Variant:     sum.Variant,
		Language:    sum.Language,
		SummaryText: sum.SummaryText,
		CreatedAt:   sum.CreatedAt,
	}
	if len(sum.Metadata) > 0 {
		data, err := json.Marshal(sum.Metadata)
		if err != nil {
			return SummaryModel{}, fmt.Errorf("marshal summary metadata: %w", err)
		}
		model.Metadata = data
	}
	return model, nil
}

func summaryFromModel(m SummaryModel) (domain.Summary, error) {
	sum := domain.Summary{
		ID:          m.ID,
		SectionID:   m.SectionID,
		Variant:     m.Variant,
		Language:    m.Language,
		SummaryText: m.SummaryText,
		CreatedAt:   m.CreatedAt,
	}
	if len(m.Metadata) > 0 {
		if err := json.Unmarshal(m.Metadata, &sum.Metadata); err != nil {
			return domain.Summary{}, fmt.Errorf("unmarshal summary metadata: %w", err)
		}
	}
	return sum, nil
}
