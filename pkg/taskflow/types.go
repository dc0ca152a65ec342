package taskflow

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/Sternrassler/taskflow-client/pkg/auth"
	"github.com/Sternrassler/taskflow-client/pkg/envelope"
)

// TaskStatus is the workflow state of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusCancelled  TaskStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// TaskPriority ranks a task.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// Valid reports whether p is a known priority.
func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Task is a task as returned by the API.
type Task struct {
	ID          envelope.ID  `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`
	Tags        []string     `json:"tags"`
	DueDate     string       `json:"due_date,omitempty"`
	CompletedAt string       `json:"completed_at,omitempty"`
	IsDeleted   bool         `json:"is_deleted"`
	DeletedAt   string       `json:"deleted_at,omitempty"`
	CreatedAt   string       `json:"created_at"`
	UpdatedAt   string       `json:"updated_at"`
	User        envelope.ID  `json:"user"`
}

// TaskCreate is the body of a create request.
type TaskCreate struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      TaskStatus   `json:"status,omitempty"`
	Priority    TaskPriority `json:"priority,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	DueDate     string       `json:"due_date,omitempty"`
}

// TaskUpdate is a partial update; nil fields are left unchanged.
type TaskUpdate struct {
	Title       *string       `json:"title,omitempty"`
	Description *string       `json:"description,omitempty"`
	Status      *TaskStatus   `json:"status,omitempty"`
	Priority    *TaskPriority `json:"priority,omitempty"`
	Tags        *[]string     `json:"tags,omitempty"`
	DueDate     *string       `json:"due_date,omitempty"`
}

// SearchParams filters task lists. Zero fields are not sent.
type SearchParams struct {
	Search         string
	Status         TaskStatus
	Priority       TaskPriority
	Tags           []string
	DueDateFrom    string
	DueDateTo      string
	Ordering       string
	IncludeDeleted bool
	Page           int
	PageSize       int
}

// Values encodes p as query parameters.
func (p SearchParams) Values() url.Values {
	q := url.Values{}
	if p.Search != "" {
		q.Set("search", p.Search)
	}
	if p.Status != "" {
		q.Set("status", string(p.Status))
	}
	if p.Priority != "" {
		q.Set("priority", string(p.Priority))
	}
	if len(p.Tags) > 0 {
		q.Set("tags", strings.Join(p.Tags, ","))
	}
	if p.DueDateFrom != "" {
		q.Set("due_date_from", p.DueDateFrom)
	}
	if p.DueDateTo != "" {
		q.Set("due_date_to", p.DueDateTo)
	}
	if p.Ordering != "" {
		q.Set("ordering", p.Ordering)
	}
	if p.IncludeDeleted {
		q.Set("include_deleted", "true")
	}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(p.PageSize))
	}
	return q
}

// TaskActivity is one entry of the recent activity feed.
type TaskActivity struct {
	ID        envelope.ID `json:"id"`
	TaskID    envelope.ID `json:"task_id"`
	TaskTitle string      `json:"task_title"`
	Action    string      `json:"action"`
	Timestamp string      `json:"timestamp"`
}

// TaskStats is the dashboard summary.
type TaskStats struct {
	TotalTasks           int            `json:"total_tasks"`
	ActiveTasks          int            `json:"active_tasks"`
	CompletedTasks       int            `json:"completed_tasks"`
	DeletedTasks         int            `json:"deleted_tasks"`
	StatusDistribution   map[string]int `json:"status_distribution"`
	PriorityDistribution map[string]int `json:"priority_distribution"`
	CompletionRate       float64        `json:"completion_rate"`
	TagsDistribution     map[string]int `json:"tags_distribution,omitempty"`
	RecentActivity       []TaskActivity `json:"recent_activity,omitempty"`
}

// Page is one page of a list endpoint.
type Page[T any] struct {
	Results    []T                 `json:"results"`
	Pagination envelope.Pagination `json:"pagination"`

	// FromCache and Stale mirror the cached read that produced the page.
	FromCache bool `json:"from_cache"`
	Stale     bool `json:"stale"`
}

// Profile is the current user's profile as served by /auth/profile/.
type Profile struct {
	auth.UserProfile
	User auth.User `json:"user"`
}

// Registration is the body of a register request.
type Registration struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}
