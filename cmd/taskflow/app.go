package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/taskflow-client/internal/config"
	"github.com/Sternrassler/taskflow-client/pkg/auth"
	"github.com/Sternrassler/taskflow-client/pkg/cache"
	"github.com/Sternrassler/taskflow-client/pkg/cachedapi"
	"github.com/Sternrassler/taskflow-client/pkg/client"
	"github.com/Sternrassler/taskflow-client/pkg/errhandler"
	"github.com/Sternrassler/taskflow-client/pkg/logging"
	"github.com/Sternrassler/taskflow-client/pkg/ratelimit"
	"github.com/Sternrassler/taskflow-client/pkg/storage"
	"github.com/Sternrassler/taskflow-client/pkg/taskflow"
)

const redisPingTimeout = 2 * time.Second

// app holds every service the commands use. It is built once per
// invocation by newApp and released by close.
type app struct {
	cfg    config.Config
	logger zerolog.Logger
	out    io.Writer

	rdb     *redis.Client
	local   storage.Storage
	session *storage.SQLite
	closers []func() error

	store    *cache.Store
	sweeper  *cache.Sweeper
	stopSwp  context.CancelFunc
	svc      *taskflow.Service
	errs     *errhandler.Handler
	reporter *errhandler.SentryReporter
}

// newApp wires the client stack from cfg. Logs, notifications and the
// login hint go to errOut; command output goes to out.
func newApp(ctx context.Context, cfg config.Config, out, errOut io.Writer) (*app, error) {
	logger := logging.Setup(logging.Config{
		Level:   cfg.LogLevel(),
		Pretty:  cfg.Log.Pretty,
		Output:  errOut,
		Service: "taskflow-cli",
	})
	a := &app{cfg: cfg, logger: logger, out: out}

	if err := a.openStorage(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}

	creds := auth.NewStore(a.local)
	nav := auth.NewHistoryNavigator("/", func(path string) {
		if path == auth.LoginPath {
			fmt.Fprintln(errOut, "Session expired. Run `taskflow login` to sign in again.")
		}
	})

	refresher, err := auth.NewRefresher(auth.RefresherConfig{
		BaseURL:   cfg.API.BaseURL,
		Store:     creds,
		Navigator: nav,
		Logger:    logging.NewLogger("refresh"),
	})
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("create refresher: %w", err)
	}

	ccfg := client.DefaultConfig(creds)
	ccfg.BaseURL = cfg.API.BaseURL
	ccfg.Timeout = cfg.API.Timeout
	ccfg.Refresher = refresher
	ccfg.RateLimiter = ratelimit.NewTracker(a.local, logging.NewLogger("ratelimit"))
	ccfg.Retry.MaxAttempts = cfg.Retry.MaxAttempts
	ccfg.Retry.InitialBackoff = cfg.Retry.InitialBackoff
	ccfg.Retry.MaxBackoff = cfg.Retry.MaxBackoff
	ccfg.Logger = logging.NewLogger("transport")
	transport, err := client.New(ccfg)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("create client: %w", err)
	}

	var sessionStorage storage.Storage
	if a.session != nil {
		sessionStorage = a.session
	}
	a.store = cache.NewStore(ctx, cache.StoreConfig{
		Session:        sessionStorage,
		Local:          a.local,
		MemoryMaxBytes: cfg.Cache.MemoryMaxBytes,
		Logger:         logging.NewLogger("cache"),
	})

	a.svc, err = taskflow.New(taskflow.Config{
		API:         cachedapi.New(transport, a.store, logging.NewLogger("cachedapi")),
		Requester:   transport,
		Credentials: creds,
		Logger:      logging.NewLogger("taskflow"),
	})
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	hcfg := errhandler.Config{
		Notifier:    newConsoleNotifier(errOut),
		Navigator:   nav,
		Credentials: creds,
		Logger:      logging.NewLogger("errhandler"),
	}
	if cfg.Sentry.DSN != "" {
		a.reporter, err = errhandler.NewSentryReporter(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Sentry disabled")
		} else {
			hcfg.Reporter = a.reporter
		}
	}
	a.errs = errhandler.New(hcfg)

	swpCtx, cancel := context.WithCancel(context.Background())
	a.stopSwp = cancel
	a.sweeper = cache.NewSweeper(a.store, cfg.Cache.SweepInterval, logging.NewLogger("sweeper"))
	a.sweeper.SweepOnce(ctx)
	go a.sweeper.Run(swpCtx)

	return a, nil
}

// openStorage selects the durable backends: Redis for the shared local
// backend when configured and reachable, else a SQLite file; session data
// always lives in its own SQLite file.
func (a *app) openStorage(ctx context.Context) error {
	sc := a.cfg.Storage

	if sc.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     sc.RedisAddr,
			Password: sc.RedisPassword,
			DB:       sc.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			a.logger.Warn().Err(err).Str("addr", sc.RedisAddr).Msg("Redis unreachable, using SQLite for local storage")
			_ = rdb.Close()
		} else {
			a.rdb = rdb
			a.local = storage.NewRedis(rdb, sc.Namespace)
			a.closers = append(a.closers, rdb.Close)
			a.logger.Debug().Str("addr", sc.RedisAddr).Msg("Connected to Redis")
		}
	}

	if a.local == nil {
		local, err := storage.OpenSQLite(storage.SQLiteOptions{Dir: sc.DataDir, FileName: "local.db"})
		if err != nil {
			return fmt.Errorf("open local storage: %w", err)
		}
		a.local = local
		a.closers = append(a.closers, local.Close)
	}

	session, err := storage.OpenSQLite(storage.SQLiteOptions{Dir: sc.DataDir, FileName: "session.db"})
	if err != nil {
		a.logger.Warn().Err(err).Str("dir", filepath.Clean(sc.DataDir)).Msg("Session storage unavailable, using memory")
		return nil
	}
	a.session = session
	a.closers = append(a.closers, session.Close)
	return nil
}

// close stops the sweeper, flushes Sentry and releases storage.
func (a *app) close(ctx context.Context) {
	if a.stopSwp != nil {
		a.stopSwp()
	}
	if a.sweeper != nil {
		a.sweeper.Close(ctx)
	}
	if a.reporter != nil {
		a.reporter.Flush(2 * time.Second)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Debug().Err(err).Msg("Close failed")
		}
	}
	a.closers = nil
}

// handle reports err through the error handler and marks it as shown.
func (a *app) handle(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	a.errs.Handle(ctx, err)
	return &reportedError{err: err}
}

// reportedError is an error the user has already been told about.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }
