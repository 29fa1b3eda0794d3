package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"shelfnotes/internal/app"
	"shelfnotes/internal/ratelimit"
	"shelfnotes/internal/util"
	"shelfnotes/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                      *app.App
	RedisAddr                string
	RedisPassword            string
	SignupRateLimitPerMinute int
	LoginRateLimitPerMinute  int
	MaxUploadBytes           int64
}

// Server exposes the HTTP endpoints of the service.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	maxUploadBytes int64
	signupLimiter  *ratelimit.FixedWindowLimiter
	loginLimiter   *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured. Rate limiting is
// active only when a Redis address is supplied.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server requires an app")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		signupLimit := cfg.SignupRateLimitPerMinute
		if signupLimit <= 0 {
			signupLimit = 5
		}
		loginLimit := cfg.LoginRateLimitPerMinute
		if loginLimit <= 0 {
			loginLimit = 10
		}
		newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
			prefix := "shelfnotes:ratelimit:" + name
			limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		var err error
		if s.signupLimiter, err = newLimiter("signup", signupLimit); err != nil {
			return nil, err
		}
		if s.loginLimiter, err = newLimiter("login", loginLimit); err != nil {
			return nil, err
		}
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("shelfnotes", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)

	// books and everything under them
	s.mux.Handle("/api/books", s.withUser(s.handleBooks))
	s.mux.Handle("/api/books/", s.withUser(s.handleBookSubtree))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
			return
		}
		user, err := s.app.ResolveUser(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
			return
		}
		next(w, r, user)
	})
}

// auth handlers

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		return
	}
	var req authRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid JSON body")
		return
	}
	user, token, err := s.app.SignUp(req.Email, req.Password)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeData(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		return
	}
	var req authRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid JSON body")
		return
	}
	user, token, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	if err := s.app.Logout(token); err != nil {
		s.writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// book handlers

type createBookRequest struct {
	Title      string `json:"title"`
	Author     string `json:"author"`
	SourceType string `json:"sourceType"`
	SourceURL  string `json:"sourceUrl"`
	Language   string `json:"language"`
	Notes      string `json:"notes"`
}

type updateBookRequest struct {
	Title      *string `json:"title"`
	Author     *string `json:"author"`
	SourceType *string `json:"sourceType"`
	SourceURL  *string `json:"sourceUrl"`
	Language   *string `json:"language"`
	Notes      *string `json:"notes"`
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		books, err := s.app.ListBooks(user.ID)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeData(w, http.StatusOK, listResponse{Items: books, Total: len(books)})
	case http.MethodPost:
		var req createBookRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION", "invalid JSON body")
			return
		}
		book, err := s.app.CreateBook(user.ID, app.CreateBookInput{
			Title:      req.Title,
			Author:     req.Author,
			SourceType: req.SourceType,
			SourceURL:  req.SourceURL,
			Language:   req.Language,
			Notes:      req.Notes,
		})
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeData(w, http.StatusCreated, book)
	default:
		methodNotAllowed(w)
	}
}

// handleBookSubtree dispatches everything under /api/books/{id}:
//
//	PATCH  /api/books/{id}
//	POST   /api/books/{id}/source        GET /api/books/{id}/source
//	POST   /api/books/{id}/import
//	GET    /api/books/{id}/sections      POST /api/books/{id}/sections
//	PATCH  /api/books/{id}/sections/{sid}  DELETE .../sections/{sid}
//	GET    .../sections/{sid}/summaries    POST .../sections/{sid}/summaries
func (s *Server) handleBookSubtree(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/books/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		notFound(w)
		return
	}
	bookID := parts[0]

	switch {
	case len(parts) == 1:
		s.handleBookByID(w, r, user, bookID)
	case len(parts) == 2 && parts[1] == "source":
		s.handleBookSource(w, r, user, bookID)
	case len(parts) == 2 && parts[1] == "import":
		s.handleImportSection(w, r, user, bookID)
	case len(parts) == 2 && parts[1] == "sections":
		s.handleSections(w, r, user, bookID)
	case len(parts) == 3 && parts[1] == "sections":
		s.handleSectionByID(w, r, user, bookID, parts[2])
	case len(parts) == 4 && parts[1] == "sections" && parts[3] == "summaries":
		s.handleSummaries(w, r, user, bookID, parts[2])
	default:
		notFound(w)
	}
}

func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request, user domain.User, bookID string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var req updateBookRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid JSON body")
		return
	}
	book, err := s.app.UpdateBook(user.ID, bookID, app.BookUpdate{
		Title:      req.Title,
		Author:     req.Author,
		SourceType: req.SourceType,
		SourceURL:  req.SourceURL,
		Language:   req.Language,
		Notes:      req.Notes,
	})
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, book)
}

func (s *Server) handleBookSource(w http.ResponseWriter, r *http.Request, user domain.User, bookID string) {
	switch r.Method {
	case http.MethodPost:
		file, header, ok := s.uploadedFile(w, r)
		if !ok {
			return
		}
		defer file.Close()
		book, err := s.app.AttachBookSource(r.Context(), user.ID, bookID, header.Filename, file, header.Size)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeData(w, http.StatusOK, book)
	case http.MethodGet:
		url, err := s.app.SourceDownloadURL(r.Context(), user.ID, bookID)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]string{"url": url})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleImportSection(w http.ResponseWriter, r *http.Request, user domain.User, bookID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	file, header, ok := s.uploadedFile(w, r)
	if !ok {
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "failed to read file")
		return
	}
	section, err := s.app.ImportSection(user.ID, bookID, header.Filename, data)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeData(w, http.StatusCreated, section)
}

// section handlers

type createSectionRequest struct {
	SectionType string `json:"sectionType"`
	OrderIndex  *int   `json:"orderIndex"`
	Title       string `json:"title"`
	RawText     string `json:"rawText"`
}

type updateSectionRequest struct {
	SectionType *string `json:"sectionType"`
	OrderIndex  *int    `json:"orderIndex"`
	Title       *string `json:"title"`
	RawText     *string `json:"rawText"`
}

func (s *Server) handleSections(w http.ResponseWriter, r *http.Request, user domain.User, bookID string) {
	switch r.Method {
	case http.MethodGet:
		sections, err := s.app.ListSections(user.ID, bookID)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeData(w, http.StatusOK, listResponse{Items: sections, Total: len(sections)})
	case http.MethodPost:
		var req createSectionRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 10<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION", "invalid JSON body")
			return
		}
		section, err := s.app.CreateSection(user.ID, bookID, app.CreateSectionInput{
			SectionType: req.SectionType,
			OrderIndex:  req.OrderIndex,
			Title:       req.Title,
			RawText:     req.RawText,
		})
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeData(w, http.StatusCreated, section)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSectionByID(w http.ResponseWriter, r *http.Request, user domain.User, bookID, sectionID string) {
	switch r.Method {
	case http.MethodPatch:
		var req updateSectionRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 10<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION", "invalid JSON body")
			return
		}
		section, err := s.app.UpdateSection(user.ID, sectionID, bookID, app.SectionUpdate{
			SectionType: req.SectionType,
			OrderIndex:  req.OrderIndex,
			Title:       req.Title,
			RawText:     req.RawText,
		})
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeData(w, http.StatusOK, section)
	case http.MethodDelete:
		if err := s.app.DeleteSection(user.ID, sectionID, bookID); err != nil {
			s.writeAppError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

// summary handlers

type createSummaryRequest struct {
	Variant     string            `json:"variant"`
	Language    string            `json:"language"`
	SummaryText string            `json:"summaryText"`
	Metadata    map[string]string `json:"metadata"`
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request, user domain.User, bookID, sectionID string) {
	switch r.Method {
	case http.MethodGet:
		summaries, err := s.app.ListSummaries(user.ID, sectionID, bookID)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeData(w, http.StatusOK, listResponse{Items: summaries, Total: len(summaries)})
	case http.MethodPost:
		var req createSummaryRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION", "invalid JSON body")
			return
		}
		summary, err := s.app.CreateSummary(user.ID, sectionID, bookID, app.CreateSummaryInput{
			Variant:     req.Variant,
			Language:    req.Language,
			SummaryText: req.SummaryText,
			Metadata:    req.Metadata,
		})
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeData(w, http.StatusCreated, summary)
	default:
		methodNotAllowed(w)
	}
}

// helpers

func (s *Server) uploadedFile(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, bool) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid form data")
		return nil, nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "file is required (field: file)")
		return nil, nil, false
	}
	return file, header, true
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", msg)
	return false
}

func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	switch {
	case app.IsValidation(err):
		writeError(w, http.StatusBadRequest, "VALIDATION", err.Error())
	case errors.Is(err, app.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "not found")
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "not found")
}

type listResponse struct {
	Items any `json:"items"`
	Total int `json:"total"`
}

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorEnvelope struct {
	Success   bool      `json:"success"`
	Error     errorBody `json:"error"`
	RequestID string    `json:"requestId,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successEnvelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorEnvelope{
		Error:     errorBody{Code: code, Message: msg},
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
