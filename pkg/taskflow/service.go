// Package taskflow is the task API service built on the cached request
// façade: task CRUD and search, statistics, the current user's profile and
// the login session.
package taskflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/taskflow-client/pkg/auth"
	"github.com/Sternrassler/taskflow-client/pkg/cache"
	"github.com/Sternrassler/taskflow-client/pkg/cachedapi"
	"github.com/Sternrassler/taskflow-client/pkg/client"
	"github.com/Sternrassler/taskflow-client/pkg/envelope"
	"github.com/Sternrassler/taskflow-client/pkg/pagination"
)

const (
	// MaxSearchHistory is how many recent queries are kept.
	MaxSearchHistory = 10

	searchHistoryKey = "recent"

	// batchConcurrency bounds BatchUpdate and BatchDelete.
	batchConcurrency = 4
)

// ErrEmptyQuery is returned by SearchTasks for a blank query.
var ErrEmptyQuery = errors.New("search query is empty")

// Cache specs shared by reads and the invalidations that follow mutations.
var (
	tasksSpec   = cachedapi.Spec{Key: "", Category: cache.Tasks}
	statsSpec   = cachedapi.Spec{Key: "stats", Category: cache.Statistics}
	profileSpec = cachedapi.Spec{Key: "profile", Category: cache.User}
)

// Config holds the Service dependencies.
type Config struct {
	// API is the cached façade all reads and mutations go through.
	API *cachedapi.Client

	// Requester sends uncached calls (login, logout, page fetches).
	Requester cachedapi.Requester

	// Credentials holds the session tokens and user snapshot.
	Credentials *auth.Store

	// Batch configures AllTasks.
	Batch pagination.Config

	Logger zerolog.Logger
}

// Service is the task API.
type Service struct {
	api       *cachedapi.Client
	requester cachedapi.Requester
	creds     *auth.Store
	pages     *pagination.BatchFetcher
	logger    zerolog.Logger
}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	if cfg.API == nil {
		return nil, fmt.Errorf("cached API is required")
	}
	if cfg.Requester == nil {
		return nil, fmt.Errorf("requester is required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if cfg.Batch == (pagination.Config{}) {
		cfg.Batch = pagination.DefaultConfig()
	}

	return &Service{
		api:       cfg.API,
		requester: cfg.Requester,
		creds:     cfg.Credentials,
		pages:     pagination.NewBatchFetcher(pagination.ClientFetcher{Requester: cfg.Requester}, cfg.Batch, cfg.Logger),
		logger:    cfg.Logger,
	}, nil
}

func taskPath(id envelope.ID) string {
	return "/tasks/" + id.String() + "/"
}

// ListTasks returns one page of tasks. Results are cached in the tasks
// category keyed by the filter parameters.
func (s *Service) ListTasks(ctx context.Context, params SearchParams) (*Page[Task], error) {
	spec := cachedapi.Spec{Key: "list", Category: cache.Tasks}
	res, err := s.api.Get(ctx, "/tasks/", params.Values(), &spec)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return pageOf[Task](res)
}

// AllTasks fetches every page matching params. Page and PageSize in params
// are ignored. Pages that failed are missing from the result, which is
// returned together with the error.
func (s *Service) AllTasks(ctx context.Context, params SearchParams) ([]Task, error) {
	params.Page, params.PageSize = 0, 0
	pages, fetchErr := s.pages.FetchAll(ctx, "/tasks/", params.Values())
	tasks, err := pagination.Collect[Task](pages)
	if err != nil {
		return tasks, err
	}
	if fetchErr != nil {
		return tasks, fmt.Errorf("all tasks: %w", fetchErr)
	}
	return tasks, nil
}

// GetTask returns one task, cached in the tasks category.
func (s *Service) GetTask(ctx context.Context, id envelope.ID) (*Task, error) {
	spec := cachedapi.Spec{Key: "task", Category: cache.Tasks}
	res, err := s.api.Get(ctx, taskPath(id), nil, &spec)
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	t, err := cachedapi.DecodeResult[Task](res)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTask creates a task.
func (s *Service) CreateTask(ctx context.Context, in TaskCreate) (*Task, error) {
	resp, err := s.mutateTasks(ctx, http.MethodPost, "/tasks/", in)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return decodeTask(resp)
}

// UpdateTask applies a partial update.
func (s *Service) UpdateTask(ctx context.Context, id envelope.ID, in TaskUpdate) (*Task, error) {
	resp, err := s.mutateTasks(ctx, http.MethodPatch, taskPath(id), in)
	if err != nil {
		return nil, fmt.Errorf("update task %s: %w", id, err)
	}
	return decodeTask(resp)
}

// DeleteTask moves a task to the trash.
func (s *Service) DeleteTask(ctx context.Context, id envelope.ID) error {
	if _, err := s.mutateTasks(ctx, http.MethodDelete, taskPath(id), nil); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// RestoreTask brings a task back from the trash.
func (s *Service) RestoreTask(ctx context.Context, id envelope.ID) (*Task, error) {
	resp, err := s.mutateTasks(ctx, http.MethodPost, taskPath(id)+"restore/", nil)
	if err != nil {
		return nil, fmt.Errorf("restore task %s: %w", id, err)
	}
	return decodeTask(resp)
}

// PermanentDeleteTask removes a task for good.
func (s *Service) PermanentDeleteTask(ctx context.Context, id envelope.ID) error {
	if _, err := s.mutateTasks(ctx, http.MethodDelete, taskPath(id)+"permanent/", nil); err != nil {
		return fmt.Errorf("permanently delete task %s: %w", id, err)
	}
	return nil
}

// BatchUpdate applies the same update to every task concurrently. It stops
// at the first failure.
func (s *Service) BatchUpdate(ctx context.Context, ids []envelope.ID, in TaskUpdate) ([]Task, error) {
	out := make([]Task, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			t, err := s.UpdateTask(gctx, id, in)
			if err != nil {
				return err
			}
			out[i] = *t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// BatchDelete moves every task to the trash concurrently.
func (s *Service) BatchDelete(ctx context.Context, ids []envelope.ID) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			return s.DeleteTask(gctx, id)
		})
	}
	return g.Wait()
}

// mutateTasks sends a task mutation and, on success, drops the cached task
// lists, task detail and statistics.
func (s *Service) mutateTasks(ctx context.Context, method, path string, body any) (*client.Response, error) {
	spec := tasksSpec
	var (
		resp *client.Response
		err  error
	)
	switch method {
	case http.MethodPost:
		resp, err = s.api.Post(ctx, path, body, &spec)
	case http.MethodPatch:
		resp, err = s.api.Patch(ctx, path, body, &spec)
	case http.MethodPut:
		resp, err = s.api.Put(ctx, path, body, &spec)
	case http.MethodDelete:
		resp, err = s.api.Delete(ctx, path, &spec)
	default:
		return nil, fmt.Errorf("unsupported method %s", method)
	}
	if err != nil {
		return nil, err
	}
	s.api.InvalidateCache(ctx, statsSpec.Key, statsSpec.Category)
	return resp, nil
}

// SearchTasks runs a full-text search and records the query in the search
// history.
func (s *Service) SearchTasks(ctx context.Context, query string, params SearchParams) (*Page[Task], error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	s.recordSearch(ctx, query)

	params.Search = ""
	q := params.Values()
	q.Set("q", query)

	spec := cachedapi.Spec{Key: "search", Category: cache.Tasks}
	res, err := s.api.Get(ctx, "/tasks/search/", q, &spec)
	if err != nil {
		return nil, fmt.Errorf("search tasks: %w", err)
	}
	return pageOf[Task](res)
}

// SearchHistory returns recent queries, most recent first.
func (s *Service) SearchHistory(ctx context.Context) []string {
	var history []string
	s.api.Store().GetInto(ctx, searchHistoryKey, cache.SearchHistory, &history)
	return history
}

// ClearSearchHistory forgets every recorded query.
func (s *Service) ClearSearchHistory(ctx context.Context) {
	s.api.Store().Delete(ctx, searchHistoryKey, cache.SearchHistory)
}

func (s *Service) recordSearch(ctx context.Context, query string) {
	history := []string{query}
	for _, q := range s.SearchHistory(ctx) {
		if q != query && len(history) < MaxSearchHistory {
			history = append(history, q)
		}
	}
	s.api.Store().Set(ctx, searchHistoryKey, history, cache.SearchHistory)
}

// Stats returns the dashboard statistics.
func (s *Service) Stats(ctx context.Context, forceRefresh bool) (*TaskStats, error) {
	spec := statsSpec
	spec.ForceRefresh = forceRefresh
	res, err := s.api.Get(ctx, "/tasks/stats/", nil, &spec)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	st, err := cachedapi.DecodeResult[TaskStats](res)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Profile returns the current user's profile.
func (s *Service) Profile(ctx context.Context, forceRefresh bool) (*Profile, error) {
	spec := profileSpec
	spec.ForceRefresh = forceRefresh
	res, err := s.api.Get(ctx, "/auth/profile/", nil, &spec)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	p, err := cachedapi.DecodeResult[Profile](res)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProfile patches profile fields and refreshes the user snapshot.
func (s *Service) UpdateProfile(ctx context.Context, fields map[string]any) (*Profile, error) {
	spec := profileSpec
	resp, err := s.api.Patch(ctx, "/auth/profile/", fields, &spec)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	p, err := client.DecodeData[Profile](resp)
	if err != nil {
		return nil, err
	}
	if p.User.Username != "" {
		if err := s.creds.SaveUser(ctx, p.User); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to persist user snapshot")
		}
	}
	return &p, nil
}

// Login exchanges a username and password for tokens and stores them with
// the user snapshot. Caches from a previous session are cleared.
func (s *Service) Login(ctx context.Context, username, password string) (*auth.User, error) {
	resp, err := s.requester.Do(ctx, client.Request{
		Method:      http.MethodPost,
		Path:        "/auth/login/",
		Body:        map[string]string{"username": username, "password": password},
		SkipRefresh: true,
	})
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	data, err := client.DecodeData[auth.AuthData](resp)
	if err != nil {
		return nil, err
	}
	if data.Tokens.Access == "" {
		return nil, fmt.Errorf("login: response carries no access token")
	}

	s.api.ClearAllCache(ctx)
	creds := auth.Credentials{Access: data.Tokens.Access, Refresh: data.Tokens.Refresh}
	if err := s.creds.Save(ctx, creds, &data.User); err != nil {
		return nil, fmt.Errorf("saving credentials: %w", err)
	}

	s.logger.Info().Str("username", data.User.Username).Msg("Logged in")
	return &data.User, nil
}

// Register creates an account. It does not sign in.
func (s *Service) Register(ctx context.Context, reg Registration) error {
	_, err := s.requester.Do(ctx, client.Request{
		Method:      http.MethodPost,
		Path:        "/auth/register/",
		Body:        reg,
		SkipRefresh: true,
	})
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return nil
}

// Logout tells the server (best effort), then purges credentials and every
// cache. Only local cleanup failures are returned.
func (s *Service) Logout(ctx context.Context) error {
	creds, _ := s.creds.Credentials(ctx)
	if creds.Access != "" {
		noRetry := client.NoRetry()
		_, err := s.requester.Do(ctx, client.Request{
			Method:      http.MethodPost,
			Path:        "/auth/logout/",
			Body:        map[string]string{"refresh": creds.Refresh},
			Retry:       &noRetry,
			SkipRefresh: true,
		})
		if err != nil {
			s.logger.Debug().Err(err).Msg("Logout request failed, clearing local state anyway")
		}
	}

	s.api.ClearAllCache(ctx)
	if err := s.creds.Purge(ctx); err != nil {
		return fmt.Errorf("purging credentials: %w", err)
	}
	s.logger.Info().Msg("Logged out")
	return nil
}

// CurrentUser returns the stored user snapshot.
func (s *Service) CurrentUser(ctx context.Context) (*auth.User, bool) {
	return s.creds.User(ctx)
}

// Authenticated reports whether a session is stored.
func (s *Service) Authenticated(ctx context.Context) bool {
	return s.creds.Authenticated(ctx)
}

// CacheStats returns per-category cache statistics.
func (s *Service) CacheStats(ctx context.Context) map[string]cache.Stats {
	return s.api.CacheStats(ctx)
}

// ClearCache drops every cached category.
func (s *Service) ClearCache(ctx context.Context) {
	s.api.ClearAllCache(ctx)
}

// Warmup preloads the profile and statistics.
func (s *Service) Warmup(ctx context.Context) int {
	return s.api.Warmup(ctx)
}

func pageOf[T any](res *cachedapi.Result) (*Page[T], error) {
	items, err := cachedapi.DecodeResult[[]T](res)
	if err != nil {
		return nil, err
	}
	p, _ := res.Meta.Pagination()
	if items == nil {
		items = []T{}
	}
	return &Page[T]{Results: items, Pagination: p, FromCache: res.FromCache, Stale: res.Stale}, nil
}

func decodeTask(resp *client.Response) (*Task, error) {
	t, err := client.DecodeData[Task](resp)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
