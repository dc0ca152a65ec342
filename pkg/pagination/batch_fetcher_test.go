package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/taskflow-client/internal/testutil"
	"github.com/Sternrassler/taskflow-client/pkg/auth"
	"github.com/Sternrassler/taskflow-client/pkg/client"
	"github.com/Sternrassler/taskflow-client/pkg/envelope"
	"github.com/Sternrassler/taskflow-client/pkg/storage"
)

// fakeFetcher serves totalPages pages whose data is [page].
type fakeFetcher struct {
	totalPages int
	failPage   int
	calls      atomic.Int32
}

func (f *fakeFetcher) FetchPage(ctx context.Context, path string, query url.Values, page int) (json.RawMessage, envelope.Pagination, error) {
	f.calls.Add(1)
	if page == f.failPage {
		return nil, envelope.Pagination{}, errors.New("boom")
	}
	p := envelope.DefaultPagination()
	p.Page = page
	p.TotalPages = f.totalPages
	return json.RawMessage(fmt.Sprintf("[%d]", page)), p, nil
}

func TestFetchAll_OrderedPages(t *testing.T) {
	f := &fakeFetcher{totalPages: 7}
	bf := NewBatchFetcher(f, Config{MaxConcurrency: 3}, zerolog.Nop())

	pages, err := bf.FetchAll(context.Background(), "/tasks/", nil)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(pages) != 7 {
		t.Fatalf("pages = %d, want 7", len(pages))
	}

	items, err := Collect[int](pages)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	for i, v := range items {
		if v != i+1 {
			t.Errorf("items[%d] = %d, want %d", i, v, i+1)
		}
	}
	if got := f.calls.Load(); got != 7 {
		t.Errorf("calls = %d, want 7", got)
	}
}

func TestFetchAll_SinglePage(t *testing.T) {
	f := &fakeFetcher{totalPages: 1}
	pages, err := NewBatchFetcher(f, DefaultConfig(), zerolog.Nop()).FetchAll(context.Background(), "/tasks/", nil)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(pages) != 1 || f.calls.Load() != 1 {
		t.Errorf("pages = %d, calls = %d", len(pages), f.calls.Load())
	}
}

func TestFetchAll_MaxPages(t *testing.T) {
	f := &fakeFetcher{totalPages: 10}
	pages, err := NewBatchFetcher(f, Config{MaxPages: 3}, zerolog.Nop()).FetchAll(context.Background(), "/tasks/", nil)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(pages) != 3 {
		t.Errorf("pages = %d, want 3", len(pages))
	}
}

func TestFetchAll_FirstPageError(t *testing.T) {
	f := &fakeFetcher{totalPages: 3, failPage: 1}
	pages, err := NewBatchFetcher(f, DefaultConfig(), zerolog.Nop()).FetchAll(context.Background(), "/tasks/", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if pages != nil {
		t.Errorf("pages = %v, want nil", pages)
	}
}

func TestFetchAll_PartialResults(t *testing.T) {
	f := &fakeFetcher{totalPages: 4, failPage: 3}
	pages, err := NewBatchFetcher(f, Config{MaxConcurrency: 1}, zerolog.Nop()).FetchAll(context.Background(), "/tasks/", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(pages) != 4 {
		t.Fatalf("pages = %d, want 4 slots", len(pages))
	}
	if pages[2] != nil {
		t.Errorf("failed page should be nil, got %s", pages[2])
	}

	items, cerr := Collect[int](pages)
	if cerr != nil {
		t.Fatalf("Collect() error = %v", cerr)
	}
	if len(items) != 2 {
		t.Errorf("items = %v, want pages 1 and 2", items)
	}
}

func TestFetchAll_MockAPI(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	for i := 0; i < 25; i++ {
		api.SeedTask(fmt.Sprintf("task %d", i), "pending", "low")
	}

	ctx := context.Background()
	creds := auth.NewStore(storage.NewMemory(0))
	access, refresh := api.IssueTokens()
	if err := creds.Save(ctx, auth.Credentials{Access: access, Refresh: refresh}, nil); err != nil {
		t.Fatal(err)
	}
	cfg := client.DefaultConfig(creds)
	cfg.BaseURL = api.BaseURL()
	transport, err := client.New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	bf := NewBatchFetcher(ClientFetcher{Requester: transport}, Config{MaxConcurrency: 2, PageSize: 10}, zerolog.Nop())
	pages, err := bf.FetchAll(ctx, "/tasks/", nil)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("pages = %d, want 3", len(pages))
	}

	tasks, err := Collect[testutil.MockTask](pages)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(tasks) != 25 {
		t.Fatalf("tasks = %d, want 25", len(tasks))
	}
	for i, task := range tasks {
		if task.ID != i+1 {
			t.Errorf("tasks[%d].ID = %d, want %d", i, task.ID, i+1)
		}
	}
}
