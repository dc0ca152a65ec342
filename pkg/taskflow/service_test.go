package taskflow

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/taskflow-client/internal/testutil"
	"github.com/Sternrassler/taskflow-client/pkg/auth"
	"github.com/Sternrassler/taskflow-client/pkg/cache"
	"github.com/Sternrassler/taskflow-client/pkg/cachedapi"
	"github.com/Sternrassler/taskflow-client/pkg/client"
	"github.com/Sternrassler/taskflow-client/pkg/envelope"
	"github.com/Sternrassler/taskflow-client/pkg/pagination"
	"github.com/Sternrassler/taskflow-client/pkg/storage"
)

type fixture struct {
	api   *testutil.MockAPI
	creds *auth.Store
	svc   *Service
}

// setup builds a Service against a mock API. With login set, the service
// signs in before returning.
func setup(t *testing.T, login bool) *fixture {
	t.Helper()
	ctx := context.Background()

	api := testutil.NewMockAPI()
	t.Cleanup(api.Close)

	creds := auth.NewStore(storage.NewMemory(0))
	cfg := client.DefaultConfig(creds)
	cfg.BaseURL = api.BaseURL()
	cfg.Retry = client.NoRetry()
	transport, err := client.New(cfg)
	require.NoError(t, err)

	store := cache.NewStore(ctx, cache.StoreConfig{Logger: zerolog.Nop()})
	svc, err := New(Config{
		API:         cachedapi.New(transport, store, zerolog.Nop()),
		Requester:   transport,
		Credentials: creds,
		Batch:       pagination.Config{MaxConcurrency: 2, PageSize: 5},
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	if login {
		_, err := svc.Login(ctx, testutil.MockUsername, testutil.MockPassword)
		require.NoError(t, err)
	}
	return &fixture{api: api, creds: creds, svc: svc}
}

func idOf(n int) envelope.ID {
	return envelope.ID(fmt.Sprint(n))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorContains(t, err, "cached API is required")
}

func TestLogin_SavesCredentialsAndUser(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()

	user, err := f.svc.Login(ctx, testutil.MockUsername, testutil.MockPassword)
	require.NoError(t, err)
	assert.Equal(t, testutil.MockUsername, user.Username)
	assert.Equal(t, envelope.ID("1"), user.ID)

	creds, err := f.creds.Credentials(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, creds.Access)
	assert.NotEmpty(t, creds.Refresh)
	assert.True(t, f.svc.Authenticated(ctx))

	current, ok := f.svc.CurrentUser(ctx)
	require.True(t, ok)
	assert.Equal(t, "ling@example.com", current.Email)
}

func TestLogin_BadCredentials(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()

	_, err := f.svc.Login(ctx, testutil.MockUsername, "wrong")
	require.Error(t, err)

	var apiErr *client.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, client.KindBusiness, apiErr.Kind)
	assert.Equal(t, "LOGIN_FAILED", apiErr.Code)
	assert.False(t, f.svc.Authenticated(ctx))
}

func TestRegister_ValidationError(t *testing.T) {
	f := setup(t, false)

	err := f.svc.Register(context.Background(), Registration{Username: "new", Password: "a", PasswordConfirm: "b"})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, client.StatusOf(err))

	var apiErr *client.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Details, "email")
	assert.Contains(t, apiErr.Details, "password_confirm")
}

func TestRegister_DoesNotSignIn(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()

	require.NoError(t, f.svc.Register(ctx, Registration{
		Username: "new", Email: "new@example.com", Password: "pw", PasswordConfirm: "pw",
	}))
	assert.False(t, f.svc.Authenticated(ctx))
}

func TestListTasks_CachedWithPagination(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		f.api.SeedTask(fmt.Sprintf("task %d", i), "pending", "medium")
	}

	params := SearchParams{Page: 2, PageSize: 3}
	page, err := f.svc.ListTasks(ctx, params)
	require.NoError(t, err)
	assert.False(t, page.FromCache)
	require.Len(t, page.Results, 3)
	assert.Equal(t, envelope.ID("4"), page.Results[0].ID)
	assert.Equal(t, 2, page.Pagination.Page)
	assert.Equal(t, 3, page.Pagination.TotalPages)
	assert.Equal(t, 7, page.Pagination.TotalCount)
	assert.True(t, page.Pagination.HasNext)

	again, err := f.svc.ListTasks(ctx, params)
	require.NoError(t, err)
	assert.True(t, again.FromCache)
	assert.Equal(t, page.Results, again.Results)
	assert.Equal(t, page.Pagination, again.Pagination)
	assert.Equal(t, 1, f.api.CountFor(http.MethodGet, "/tasks/"))
}

func TestListTasks_Filters(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	f.api.SeedTask("write report", "pending", "high")
	f.api.SeedTask("review", "completed", "low")
	f.api.SeedTask("deploy", "pending", "low")

	page, err := f.svc.ListTasks(ctx, SearchParams{Status: StatusPending, Priority: PriorityLow})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "deploy", page.Results[0].Title)
}

func TestListTasks_EmptyPage(t *testing.T) {
	f := setup(t, true)

	page, err := f.svc.ListTasks(context.Background(), SearchParams{})
	require.NoError(t, err)
	assert.NotNil(t, page.Results)
	assert.Empty(t, page.Results)
}

func TestAllTasks(t *testing.T) {
	f := setup(t, true)
	for i := 0; i < 12; i++ {
		f.api.SeedTask(fmt.Sprintf("task %d", i), "pending", "low")
	}

	tasks, err := f.svc.AllTasks(context.Background(), SearchParams{Page: 9, PageSize: 1})
	require.NoError(t, err)
	require.Len(t, tasks, 12)
	for i, task := range tasks {
		assert.Equal(t, idOf(i+1), task.ID)
	}
	assert.Equal(t, 3, f.api.CountFor(http.MethodGet, "/tasks/"))
}

func TestTaskLifecycle(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()

	created, err := f.svc.CreateTask(ctx, TaskCreate{
		Title:    "ship release",
		Priority: PriorityUrgent,
		Tags:     []string{"release"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ship release", created.Title)
	assert.Equal(t, PriorityUrgent, created.Priority)
	assert.Equal(t, envelope.ID("1"), created.User)

	got, err := f.svc.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	done := StatusCompleted
	updated, err := f.svc.UpdateTask(ctx, created.ID, TaskUpdate{Status: &done})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, updated.Status)
	assert.NotEmpty(t, updated.CompletedAt)
	assert.Equal(t, "ship release", updated.Title, "unset fields are not sent")

	// The detail cache was dropped by the update.
	got, err = f.svc.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	require.NoError(t, f.svc.DeleteTask(ctx, created.ID))
	got, err = f.svc.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)

	restored, err := f.svc.RestoreTask(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, restored.IsDeleted)

	require.NoError(t, f.svc.PermanentDeleteTask(ctx, created.ID))
	_, err = f.svc.GetTask(ctx, created.ID)
	assert.Equal(t, http.StatusNotFound, client.StatusOf(err))
}

func TestCreateTask_ValidationError(t *testing.T) {
	f := setup(t, true)

	_, err := f.svc.CreateTask(context.Background(), TaskCreate{})
	assert.Equal(t, http.StatusUnprocessableEntity, client.StatusOf(err))
}

func TestMutation_InvalidatesTasksAndStats(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	id := f.api.SeedTask("a", "pending", "low")

	_, err := f.svc.ListTasks(ctx, SearchParams{})
	require.NoError(t, err)
	stats, err := f.svc.Stats(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.CompletedTasks)

	done := StatusCompleted
	_, err = f.svc.UpdateTask(ctx, idOf(id), TaskUpdate{Status: &done})
	require.NoError(t, err)

	page, err := f.svc.ListTasks(ctx, SearchParams{})
	require.NoError(t, err)
	assert.False(t, page.FromCache)
	assert.Equal(t, StatusCompleted, page.Results[0].Status)

	stats, err = f.svc.Stats(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CompletedTasks)
	assert.Equal(t, 2, f.api.CountFor(http.MethodGet, "/tasks/stats/"))
}

func TestFailedMutation_KeepsCache(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	f.api.SeedTask("a", "pending", "low")

	_, err := f.svc.ListTasks(ctx, SearchParams{})
	require.NoError(t, err)

	_, err = f.svc.UpdateTask(ctx, "999", TaskUpdate{})
	require.Error(t, err)

	page, err := f.svc.ListTasks(ctx, SearchParams{})
	require.NoError(t, err)
	assert.True(t, page.FromCache)
}

func TestBatchUpdate(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	var ids []envelope.ID
	for i := 0; i < 6; i++ {
		ids = append(ids, idOf(f.api.SeedTask(fmt.Sprintf("t%d", i), "pending", "low")))
	}

	high := PriorityHigh
	tasks, err := f.svc.BatchUpdate(ctx, ids, TaskUpdate{Priority: &high})
	require.NoError(t, err)
	require.Len(t, tasks, 6)
	for i, task := range tasks {
		assert.Equal(t, ids[i], task.ID)
		assert.Equal(t, PriorityHigh, task.Priority)
	}
}

func TestBatchUpdate_StopsOnFailure(t *testing.T) {
	f := setup(t, true)
	id := f.api.SeedTask("a", "pending", "low")

	_, err := f.svc.BatchUpdate(context.Background(), []envelope.ID{idOf(id), "404"}, TaskUpdate{})
	assert.Equal(t, http.StatusNotFound, client.StatusOf(err))
}

func TestBatchDelete(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	a := f.api.SeedTask("a", "pending", "low")
	b := f.api.SeedTask("b", "pending", "low")
	f.api.SeedTask("c", "pending", "low")

	require.NoError(t, f.svc.BatchDelete(ctx, []envelope.ID{idOf(a), idOf(b)}))

	page, err := f.svc.ListTasks(ctx, SearchParams{})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "c", page.Results[0].Title)
}

func TestSearchTasks(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	f.api.SeedTask("fix login bug", "pending", "high")
	f.api.SeedTask("write docs", "pending", "low")

	page, err := f.svc.SearchTasks(ctx, "  login ", SearchParams{})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "fix login bug", page.Results[0].Title)
	assert.Equal(t, []string{"login"}, f.svc.SearchHistory(ctx))
}

func TestSearchTasks_EmptyQuery(t *testing.T) {
	f := setup(t, true)

	_, err := f.svc.SearchTasks(context.Background(), "   ", SearchParams{})
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Zero(t, f.api.CountFor(http.MethodGet, "/tasks/search/"))
}

func TestSearchHistory_RecentFirstCapped(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		_, err := f.svc.SearchTasks(ctx, fmt.Sprintf("q%d", i), SearchParams{})
		require.NoError(t, err)
	}
	_, err := f.svc.SearchTasks(ctx, "q5", SearchParams{})
	require.NoError(t, err)

	history := f.svc.SearchHistory(ctx)
	require.Len(t, history, MaxSearchHistory)
	assert.Equal(t, "q5", history[0])
	assert.Equal(t, "q11", history[1])
	assert.NotContains(t, history, "q0")
	assert.NotContains(t, history, "q1")

	count := 0
	for _, q := range history {
		if q == "q5" {
			count++
		}
	}
	assert.Equal(t, 1, count, "queries are deduplicated")

	f.svc.ClearSearchHistory(ctx)
	assert.Empty(t, f.svc.SearchHistory(ctx))
}

func TestProfile_CachedAndUpdated(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()

	p, err := f.svc.Profile(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Shanghai", p.Timezone)
	assert.Equal(t, testutil.MockUsername, p.User.Username)

	_, err = f.svc.Profile(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, f.api.CountFor(http.MethodGet, "/auth/profile/"))

	updated, err := f.svc.UpdateProfile(ctx, map[string]any{"nickname": "Ling"})
	require.NoError(t, err)
	assert.Equal(t, "Ling", updated.Nickname)

	p, err = f.svc.Profile(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "Ling", p.Nickname)
	assert.Equal(t, 2, f.api.CountFor(http.MethodGet, "/auth/profile/"))

	_, err = f.svc.Profile(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 3, f.api.CountFor(http.MethodGet, "/auth/profile/"))
}

func TestLogout_PurgesAndClearsCaches(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	f.api.SeedTask("a", "pending", "low")

	_, err := f.svc.Stats(ctx, false)
	require.NoError(t, err)
	_, err = f.svc.SearchTasks(ctx, "a", SearchParams{})
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx))
	assert.Equal(t, 1, f.api.CountFor(http.MethodPost, "/auth/logout/"))
	assert.False(t, f.svc.Authenticated(ctx))
	assert.Empty(t, f.svc.SearchHistory(ctx))
	for name, st := range f.svc.CacheStats(ctx) {
		assert.Zero(t, st.Total, "category %s", name)
	}
}

func TestLogout_ServerFailureIgnored(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	f.api.SetResponse(http.MethodPost, "/auth/logout/", testutil.MockResponse{StatusCode: http.StatusInternalServerError, Body: "boom"})

	require.NoError(t, f.svc.Logout(ctx))
	assert.False(t, f.svc.Authenticated(ctx))
}

func TestWarmup(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()

	assert.Equal(t, 2, f.svc.Warmup(ctx))

	_, err := f.svc.Stats(ctx, false)
	require.NoError(t, err)
	_, err = f.svc.Profile(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, f.api.CountFor(http.MethodGet, "/tasks/stats/"))
	assert.Equal(t, 1, f.api.CountFor(http.MethodGet, "/auth/profile/"))
}

func TestSearchParams_Values(t *testing.T) {
	tests := []struct {
		name   string
		params SearchParams
		want   string
	}{
		{"empty", SearchParams{}, ""},
		{"status and priority", SearchParams{Status: StatusInProgress, Priority: PriorityHigh}, "priority=high&status=in_progress"},
		{"tags joined", SearchParams{Tags: []string{"a", "b"}}, "tags=a%2Cb"},
		{"include deleted", SearchParams{IncludeDeleted: true}, "include_deleted=true"},
		{"paging", SearchParams{Page: 2, PageSize: 50}, "page=2&page_size=50"},
		{"dates and ordering", SearchParams{DueDateFrom: "2024-01-01", DueDateTo: "2024-02-01", Ordering: "-created_at"},
			"due_date_from=2024-01-01&due_date_to=2024-02-01&ordering=-created_at"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.params.Values().Encode())
		})
	}
}

func TestStatusAndPriorityValid(t *testing.T) {
	assert.True(t, StatusCancelled.Valid())
	assert.False(t, TaskStatus("archived").Valid())
	assert.True(t, PriorityUrgent.Valid())
	assert.False(t, TaskPriority("critical").Valid())
}
