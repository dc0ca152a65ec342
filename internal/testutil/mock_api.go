// Package testutil provides testing utilities for the TaskFlow client.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Credentials accepted by the mock login endpoint.
const (
	MockUsername = "ling"
	MockPassword = "secret"
)

var signingKey = []byte("mock-api-signing-key")

// MockResponse defines a canned response for an overridden route.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockTask is the task shape served by the mock API.
type MockTask struct {
	ID          int      `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	Tags        []string `json:"tags"`
	DueDate     string   `json:"due_date,omitempty"`
	CompletedAt string   `json:"completed_at,omitempty"`
	IsDeleted   bool     `json:"is_deleted"`
	DeletedAt   string   `json:"deleted_at,omitempty"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
	User        int      `json:"user"`
}

// MockAPI is an in-memory TaskFlow API server for tests.
type MockAPI struct {
	server *httptest.Server

	mu         sync.RWMutex
	overrides  map[string]http.HandlerFunc
	counts     map[string]int
	total      int
	lastHeader http.Header

	tasks   map[int]*MockTask
	nextID  int
	access  map[string]bool
	refresh map[string]bool
	profile map[string]any
}

// NewMockAPI starts a mock server. Routes live under /api.
func NewMockAPI() *MockAPI {
	m := &MockAPI{
		overrides: make(map[string]http.HandlerFunc),
		counts:    make(map[string]int),
		tasks:     make(map[int]*MockTask),
		nextID:    1,
		access:    make(map[string]bool),
		refresh:   make(map[string]bool),
		profile: map[string]any{
			"timezone":             "Asia/Shanghai",
			"theme_preference":     "auto",
			"email_notifications":  true,
			"task_count":           0,
			"completed_task_count": 0,
		},
	}

	r := chi.NewRouter()
	r.Use(m.track)
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login/", m.handleLogin)
		r.Post("/auth/register/", m.handleRegister)
		r.Post("/auth/token/refresh/", m.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(m.requireAuth)
			r.Post("/auth/logout/", m.handleLogout)
			r.Get("/auth/profile/", m.handleProfile)
			r.Patch("/auth/profile/", m.handleUpdateProfile)

			r.Get("/tasks/", m.handleListTasks)
			r.Post("/tasks/", m.handleCreateTask)
			r.Get("/tasks/search/", m.handleSearchTasks)
			r.Get("/tasks/stats/", m.handleStats)
			r.Get("/tasks/{id}/", m.handleGetTask)
			r.Patch("/tasks/{id}/", m.handleUpdateTask)
			r.Put("/tasks/{id}/", m.handleUpdateTask)
			r.Delete("/tasks/{id}/", m.handleDeleteTask)
			r.Post("/tasks/{id}/restore/", m.handleRestoreTask)
			r.Delete("/tasks/{id}/permanent/", m.handlePermanentDelete)
		})
	})

	m.server = httptest.NewServer(r)
	return m
}

// URL returns the server root URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// BaseURL returns the API base URL.
func (m *MockAPI) BaseURL() string {
	return m.server.URL + "/api"
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = make(map[string]int)
	m.total = 0
	m.lastHeader = nil
}

// SetHandler overrides method+path (path relative to /api) with handler.
func (m *MockAPI) SetHandler(method, path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[routeKey(method, "/api"+path)] = handler
}

// SetResponse overrides method+path with a canned response.
func (m *MockAPI) SetResponse(method, path string, resp MockResponse) {
	m.SetHandler(method, path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		if resp.Body != "" && w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			_, _ = w.Write([]byte(resp.Body))
		}
	})
}

// ClearHandler removes an override.
func (m *MockAPI) ClearHandler(method, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.overrides, routeKey(method, "/api"+path))
}

// RequestCount returns the number of requests made to the server.
func (m *MockAPI) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

// CountFor returns how many requests hit method+path (relative to /api).
func (m *MockAPI) CountFor(method, path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[routeKey(method, "/api"+path)]
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockAPI) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader.Clone()
}

// IssueTokens creates a valid access/refresh pair.
func (m *MockAPI) IssueTokens() (access, refresh string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issueLocked()
}

// ExpireAccessTokens invalidates every access token; refresh tokens stay valid.
func (m *MockAPI) ExpireAccessTokens() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access = make(map[string]bool)
}

// RevokeRefreshTokens invalidates every refresh token.
func (m *MockAPI) RevokeRefreshTokens() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh = make(map[string]bool)
}

// SeedTask adds a task and returns its id.
func (m *MockAPI) SeedTask(title, status, priority string, tags ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tags == nil {
		tags = []string{}
	}
	t := m.newTaskLocked(title)
	t.Status = status
	t.Priority = priority
	t.Tags = tags
	return t.ID
}

func (m *MockAPI) issueLocked() (string, string) {
	access, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"jti":        uuid.NewString(),
		"token_type": "access",
		"user_id":    1,
		"exp":        time.Now().Add(time.Hour).Unix(),
	}).SignedString(signingKey)
	refresh := uuid.NewString()
	m.access[access] = true
	m.refresh[refresh] = true
	return access, refresh
}

func (m *MockAPI) newTaskLocked(title string) *MockTask {
	now := time.Now().UTC().Format(time.RFC3339)
	t := &MockTask{
		ID:        m.nextID,
		Title:     title,
		Status:    "pending",
		Priority:  "medium",
		Tags:      []string{},
		CreatedAt: now,
		UpdatedAt: now,
		User:      1,
	}
	m.tasks[t.ID] = t
	m.nextID++
	return t
}

func routeKey(method, path string) string {
	return method + " " + path
}

// track counts requests and applies overrides before routing.
func (m *MockAPI) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := routeKey(r.Method, r.URL.Path)

		m.mu.Lock()
		m.total++
		m.counts[key]++
		m.lastHeader = r.Header.Clone()
		override := m.overrides[key]
		m.mu.Unlock()

		if override != nil {
			override(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *MockAPI) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		m.mu.RLock()
		ok := m.access[token]
		m.mu.RUnlock()

		if !ok {
			writeFail(w, http.StatusUnauthorized, "Authentication credentials were not provided", "UNAUTHORIZED", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeOK(w http.ResponseWriter, status int, data any, message string, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	writeJSON(w, status, map[string]any{
		"success":   true,
		"message":   message,
		"data":      data,
		"error":     nil,
		"meta":      meta,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeFail(w http.ResponseWriter, status int, message, code string, details map[string]any) {
	writeJSON(w, status, map[string]any{
		"success":   false,
		"message":   message,
		"data":      nil,
		"error":     map[string]any{"code": code, "details": details},
		"meta":      map[string]any{},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (m *MockAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Username != MockUsername || body.Password != MockPassword {
		writeFail(w, http.StatusOK, "Invalid username or password", "LOGIN_FAILED", nil)
		return
	}

	m.mu.Lock()
	access, refresh := m.issueLocked()
	m.mu.Unlock()

	writeOK(w, http.StatusOK, map[string]any{
		"user": m.user(),
		"tokens": map[string]any{
			"access":     access,
			"refresh":    refresh,
			"expires_in": 3600,
			"token_type": "Bearer",
		},
	}, "login successful", nil)
}

func (m *MockAPI) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)

	details := map[string]any{}
	for _, f := range []string{"username", "email", "password"} {
		if body[f] == "" {
			details[f] = []string{"This field is required."}
		}
	}
	if body["password"] != body["password_confirm"] {
		details["password_confirm"] = []string{"Passwords do not match."}
	}
	if len(details) > 0 {
		writeFail(w, http.StatusUnprocessableEntity, "Validation failed", "VALIDATION_ERROR", details)
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{
		"message": "registered",
		"user":    map[string]any{"id": 2, "username": body["username"], "email": body["email"]},
	}, "registration successful", nil)
}

func (m *MockAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Refresh string `json:"refresh"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	m.mu.Lock()
	valid := m.refresh[body.Refresh]
	var access string
	if valid {
		access, _ = m.issueLocked()
	}
	m.mu.Unlock()

	if !valid {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Token is invalid or expired", "code": "token_not_valid"})
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"access": access}, "token refreshed", nil)
}

func (m *MockAPI) handleLogout(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, nil, "logged out", nil)
}

func (m *MockAPI) user() map[string]any {
	return map[string]any{
		"id":       1,
		"username": MockUsername,
		"email":    "ling@example.com",
	}
}

func (m *MockAPI) handleProfile(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	profile := make(map[string]any, len(m.profile)+1)
	for k, v := range m.profile {
		profile[k] = v
	}
	m.mu.RUnlock()
	profile["user"] = m.user()
	writeOK(w, http.StatusOK, profile, "", nil)
}

func (m *MockAPI) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid JSON", "BAD_REQUEST", nil)
		return
	}
	m.mu.Lock()
	for k, v := range patch {
		m.profile[k] = v
	}
	m.mu.Unlock()
	m.handleProfile(w, r)
}

// visibleTasks returns tasks filtered by the list query parameters, by id.
func (m *MockAPI) visibleTasks(r *http.Request) []MockTask {
	q := r.URL.Query()
	includeDeleted := q.Get("include_deleted") == "true"
	search := strings.ToLower(q.Get("search"))

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []MockTask
	for _, t := range m.tasks {
		if t.IsDeleted && !includeDeleted {
			continue
		}
		if s := q.Get("status"); s != "" && t.Status != s {
			continue
		}
		if p := q.Get("priority"); p != "" && t.Priority != p {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(t.Title+" "+t.Description), search) {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MockAPI) handleListTasks(w http.ResponseWriter, r *http.Request) {
	m.writePage(w, r, m.visibleTasks(r))
}

func (m *MockAPI) handleSearchTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("search") == "" && q.Get("q") != "" {
		q.Set("search", q.Get("q"))
		r.URL.RawQuery = q.Encode()
	}
	m.writePage(w, r, m.visibleTasks(r))
}

func (m *MockAPI) writePage(w http.ResponseWriter, r *http.Request, all []MockTask) {
	q := r.URL.Query()
	page := atoiDefault(q.Get("page"), 1)
	size := atoiDefault(q.Get("page_size"), 20)

	total := len(all)
	pages := (total + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	results := all[start:end]
	if results == nil {
		results = []MockTask{}
	}

	pagination := map[string]any{
		"page":         page,
		"page_size":    size,
		"total_pages":  pages,
		"total_count":  total,
		"has_next":     page < pages,
		"has_previous": page > 1,
	}
	if page < pages {
		pagination["next_page"] = page + 1
	}
	if page > 1 {
		pagination["previous_page"] = page - 1
	}
	writeOK(w, http.StatusOK, results, "", map[string]any{"pagination": pagination})
}

func atoiDefault(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return def
}

func (m *MockAPI) taskFromURL(w http.ResponseWriter, r *http.Request) (*MockTask, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeFail(w, http.StatusNotFound, "Task not found", "NOT_FOUND", nil)
		return nil, false
	}
	m.mu.RLock()
	t, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		writeFail(w, http.StatusNotFound, "Task not found", "NOT_FOUND", nil)
		return nil, false
	}
	return t, true
}

func (m *MockAPI) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, ok := m.taskFromURL(w, r)
	if !ok {
		return
	}
	m.mu.RLock()
	snapshot := *t
	m.mu.RUnlock()
	writeOK(w, http.StatusOK, snapshot, "", nil)
}

type taskInput struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Status      *string   `json:"status"`
	Priority    *string   `json:"priority"`
	Tags        *[]string `json:"tags"`
	DueDate     *string   `json:"due_date"`
}

func (in taskInput) apply(t *MockTask) {
	if in.Title != nil {
		t.Title = *in.Title
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.Status != nil {
		t.Status = *in.Status
		if t.Status == "completed" {
			t.CompletedAt = time.Now().UTC().Format(time.RFC3339)
		}
	}
	if in.Priority != nil {
		t.Priority = *in.Priority
	}
	if in.Tags != nil {
		t.Tags = *in.Tags
	}
	if in.DueDate != nil {
		t.DueDate = *in.DueDate
	}
	t.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}

func (m *MockAPI) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var in taskInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid JSON", "BAD_REQUEST", nil)
		return
	}
	if in.Title == nil || strings.TrimSpace(*in.Title) == "" {
		writeFail(w, http.StatusUnprocessableEntity, "Validation failed", "VALIDATION_ERROR",
			map[string]any{"title": []string{"This field is required."}})
		return
	}

	m.mu.Lock()
	t := m.newTaskLocked(*in.Title)
	in.apply(t)
	snapshot := *t
	m.mu.Unlock()

	writeOK(w, http.StatusCreated, snapshot, "task created", nil)
}

func (m *MockAPI) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	t, ok := m.taskFromURL(w, r)
	if !ok {
		return
	}
	var in taskInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid JSON", "BAD_REQUEST", nil)
		return
	}

	m.mu.Lock()
	in.apply(t)
	snapshot := *t
	m.mu.Unlock()

	writeOK(w, http.StatusOK, snapshot, "task updated", nil)
}

func (m *MockAPI) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	t, ok := m.taskFromURL(w, r)
	if !ok {
		return
	}
	m.mu.Lock()
	t.IsDeleted = true
	t.DeletedAt = time.Now().UTC().Format(time.RFC3339)
	m.mu.Unlock()

	writeOK(w, http.StatusOK, nil, "task moved to trash", nil)
}

func (m *MockAPI) handleRestoreTask(w http.ResponseWriter, r *http.Request) {
	t, ok := m.taskFromURL(w, r)
	if !ok {
		return
	}
	m.mu.Lock()
	t.IsDeleted = false
	t.DeletedAt = ""
	snapshot := *t
	m.mu.Unlock()

	writeOK(w, http.StatusOK, snapshot, "task restored", nil)
}

func (m *MockAPI) handlePermanentDelete(w http.ResponseWriter, r *http.Request) {
	t, ok := m.taskFromURL(w, r)
	if !ok {
		return
	}
	m.mu.Lock()
	delete(m.tasks, t.ID)
	m.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (m *MockAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := map[string]int{"pending": 0, "in_progress": 0, "completed": 0, "cancelled": 0}
	priority := map[string]int{"low": 0, "medium": 0, "high": 0, "urgent": 0}
	tags := map[string]int{}
	var total, active, completed, deleted int

	for _, t := range m.tasks {
		if t.IsDeleted {
			deleted++
			continue
		}
		total++
		status[t.Status]++
		priority[t.Priority]++
		for _, tag := range t.Tags {
			tags[tag]++
		}
		if t.Status == "completed" {
			completed++
		} else {
			active++
		}
	}
	rate := 0.0
	if total > 0 {
		rate = float64(completed) * 100 / float64(total)
	}

	writeOK(w, http.StatusOK, map[string]any{
		"total_tasks":           total,
		"active_tasks":          active,
		"completed_tasks":       completed,
		"deleted_tasks":         deleted,
		"status_distribution":   status,
		"priority_distribution": priority,
		"completion_rate":       rate,
		"tags_distribution":     tags,
		"recent_activity":       []any{},
	}, "", nil)
}
