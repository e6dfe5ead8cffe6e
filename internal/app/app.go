// Package app builds the fitsync core once per process and hands the pieces
// to the entry points. There are no package-level singletons: every
// collaborator hangs off App.
package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/fitsync/backend/internal/aggregate"
	"github.com/kimhsiao/fitsync/backend/internal/config"
	"github.com/kimhsiao/fitsync/backend/internal/connectivity"
	"github.com/kimhsiao/fitsync/backend/internal/db"
	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/export"
	backup "github.com/kimhsiao/fitsync/backend/internal/export/scheduler"
	"github.com/kimhsiao/fitsync/backend/internal/localstore"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
	"github.com/kimhsiao/fitsync/backend/internal/remote"
	"github.com/kimhsiao/fitsync/backend/internal/services"
	syncpkg "github.com/kimhsiao/fitsync/backend/internal/sync"
	"github.com/kimhsiao/fitsync/backend/internal/sync/queue"
	"github.com/kimhsiao/fitsync/backend/internal/sync/retry"
	"github.com/kimhsiao/fitsync/backend/internal/sync/scheduler"
	"github.com/kimhsiao/fitsync/backend/internal/telemetry"
	"github.com/kimhsiao/fitsync/backend/internal/uuid"
)

// Options overrides collaborators, mostly for tests.
type Options struct {
	// Remote replaces the store selected by the configuration.
	Remote remote.Store
	// HTTPClient is used by the connectivity prober.
	HTTPClient *http.Client
	// Write and Fetch override the synchronizer retry policies.
	Write retry.Policy
	Fetch retry.Policy
	Now   func() time.Time
	NewID uuid.Generator
}

// App is the process-wide registry.
type App struct {
	Config    *config.Config
	DB        *db.DB
	Store     *localstore.Store
	Remote    remote.Store
	Queue     *queue.SyncQueue
	Sync      *syncpkg.Synchronizer
	Cache     *aggregate.Cache
	Monitor   *connectivity.Monitor
	Prober    *connectivity.Prober // nil without a probe URL
	Scheduler *scheduler.Scheduler
	Food      *services.FoodLogService
	Weight    *services.WeightLogService
	Export    *export.Service
	Backups   *backup.Scheduler

	kv      *db.KVRepository
	closers []func() error

	mu      sync.RWMutex
	userID  string
	started bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// Status is a snapshot for the status endpoints.
type Status struct {
	UserID       string                    `json:"userId,omitempty"`
	Connectivity connectivity.State        `json:"connectivity"`
	SyncStatus   syncpkg.SyncStatus        `json:"syncStatus"`
	LastSync     *time.Time                `json:"lastSync,omitempty"`
	LastError    string                    `json:"lastError,omitempty"`
	Queue        queue.Stats               `json:"queue"`
	Cache        aggregate.Stats           `json:"cache"`
	Scheduler    scheduler.SchedulerStatus `json:"scheduler"`
}

// InitLogging configures the global logger from cfg.
func InitLogging(cfg *config.Config) {
	logging.InitWithFormat(os.Stderr,
		logging.ParseLevel(cfg.Logging.Level),
		logging.Format(strings.ToUpper(cfg.Logging.Format)))
}

// New opens the database and wires every component. Nothing runs in the
// background until Start.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid configuration", err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid configuration", err)
	}

	if err := telemetry.EnableTelemetry(cfg.Telemetry); err != nil {
		logging.Warn("Telemetry disabled", map[string]interface{}{"error": err.Error()})
	}

	database, err := db.OpenAndMigrate(cfg.DataDir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMigration, "failed to open local database", err)
	}

	a := &App{Config: cfg, DB: database}
	a.kv = db.NewKVRepository(database.DB)
	a.closers = append(a.closers, a.kv.Close, database.Close)
	a.Store = localstore.New(a.kv)

	a.Remote = opts.Remote
	if a.Remote == nil {
		if a.Remote, err = a.openRemote(ctx); err != nil {
			a.closeAll()
			return nil, err
		}
	}

	a.Monitor = connectivity.NewMonitor(ctx)

	a.Queue = queue.NewSyncQueue(a.Store, queue.RemoteApplier{Store: a.Remote}, queue.Options{
		MaxSize:   cfg.Queue.MaxSize,
		Online:    a.Monitor.IsOnline,
		OnDrained: a.queueDrained,
		Now:       opts.Now,
	})

	a.Cache = aggregate.New(a.Store, aggregate.Options{
		DailyTTL:  cfg.Cache.DailyTTL,
		WeeklyTTL: cfg.Cache.WeeklyTTL,
		Location:  loc,
	})

	a.Sync = syncpkg.NewSynchronizer(a.Store, a.Remote, a.Queue, a.Cache, syncpkg.Options{
		Online: a.Monitor.IsOnline,
		Write:  opts.Write,
		Fetch:  opts.Fetch,
		Now:    opts.Now,
		NewID:  opts.NewID,
	})

	sched := cfg.Scheduler
	a.Scheduler = scheduler.NewScheduler(a.Sync, a.Queue, &sched)

	a.Monitor.OnChange(func(_, to connectivity.State) {
		a.Scheduler.SetOnlineStatus(to != connectivity.StateOffline)
	})
	a.Monitor.OnReconnect(a.reconnected)

	if cfg.Prober.URL != "" {
		a.Prober = connectivity.NewProber(a.Monitor, cfg.Prober, opts.HTTPClient)
	}

	a.Food = services.NewFoodLogService(ctx, a.Sync, a.Cache, a.Store, cfg.Undo, opts.Now)
	a.Weight = services.NewWeightLogService(a.Sync, a.Store, opts.Now)

	backups := cfg.Backup
	if backups.Dir == "" {
		backups.Dir = filepath.Join(cfg.DataDir, "backups")
	}
	a.Export = export.NewService(a.Sync, backups.Dir)
	a.Backups = backup.NewScheduler(a.Export, a.UserID, backups)

	logging.Info("Core initialized", map[string]interface{}{
		"data_dir": cfg.DataDir,
		"remote":   cfg.Remote.Backend,
		"prober":   cfg.Prober.URL,
	})
	return a, nil
}

func (a *App) openRemote(ctx context.Context) (remote.Store, error) {
	switch strings.ToLower(a.Config.Remote.Backend) {
	case config.BackendFirestore:
		fs, err := remote.NewFirestoreStore(ctx, a.Config.Remote.Firestore)
		if err != nil {
			return nil, err
		}
		a.closers = append([]func() error{fs.Close}, a.closers...)
		return fs, nil
	default:
		logging.Warn("Using the in-memory remote store; nothing leaves this process", nil)
		return remote.NewMemoryStore(), nil
	}
}

// queueDrained forwards drain results to event subscribers.
func (a *App) queueDrained(res queue.DrainResult) {
	a.Sync.Emit(syncpkg.Event{Type: syncpkg.EventQueueDrained, UserID: a.UserID(), Data: res})
}

// reconnected drains the queue and then resyncs the signed-in user.
func (a *App) reconnected(ctx context.Context) {
	res := a.Queue.Drain(ctx)
	logging.Info("Reconnected, queue drained", map[string]interface{}{
		"applied":   res.Applied,
		"remaining": res.Remaining,
		"skipped":   res.Skipped,
	})

	userID := a.UserID()
	if userID == "" {
		return
	}
	if _, err := a.Sync.SyncAll(ctx, userID); err != nil {
		logging.ErrorWithCode("Reconnect sync failed", string(apperrors.CodeOf(err)), err,
			map[string]interface{}{"user_id": userID})
	}
}

// SignIn makes userID the active user and runs its first full sync once.
// An unreachable backend does not fail the sign-in; the first load is
// retried on the next sign-in.
func (a *App) SignIn(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperrors.New(apperrors.ErrInvalid, "user id is required")
	}

	a.mu.Lock()
	a.userID = userID
	a.mu.Unlock()
	a.Scheduler.SetUser(userID)
	telemetry.IdentifyUser(userID)

	ran, err := a.Sync.LoadUser(ctx, userID)
	if err != nil {
		if apperrors.IsConnectivity(err) {
			logging.Warn("First load deferred, backend unreachable", map[string]interface{}{"user_id": userID})
			return nil
		}
		return err
	}
	logging.Info("User signed in", map[string]interface{}{"user_id": userID, "first_load": ran})
	return nil
}

// SignOut clears the active user and ends live subscriptions.
func (a *App) SignOut() {
	a.mu.Lock()
	a.userID = ""
	a.mu.Unlock()
	a.Scheduler.SetUser("")
	a.Sync.Close()
}

// UserID returns the signed-in user, or "".
func (a *App) UserID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.userID
}

// Start launches the scheduler and the prober. It does not block.
func (a *App) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return
	}
	a.started = true

	ctx, a.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	a.group = g

	a.Scheduler.Start(gctx)
	if err := a.Backups.Start(gctx); err != nil {
		logging.Error("Backup scheduler not started", err, nil)
	}
	if a.Prober != nil {
		g.Go(func() error {
			if err := a.Prober.Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
}

// SetOnline feeds an externally observed connectivity change, e.g. from the
// mobile OS, into the monitor.
func (a *App) SetOnline(ctx context.Context, online bool) {
	a.Monitor.SetOnline(ctx, online)
}

// SyncNow resyncs the signed-in user and waits for the result.
func (a *App) SyncNow(ctx context.Context) ([]*syncpkg.SyncResult, error) {
	if a.UserID() == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "no signed-in user")
	}
	return a.Scheduler.SyncNow(ctx)
}

// ExportData writes a backup archive of the signed-in user's logs.
func (a *App) ExportData(ctx context.Context, cfg export.ExportConfig) (*export.ExportResult, error) {
	userID := a.UserID()
	if userID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "no signed-in user")
	}
	return a.Export.Export(ctx, userID, cfg)
}

// ImportData restores the signed-in user's logs from a backup archive.
func (a *App) ImportData(ctx context.Context, cfg export.ImportConfig) (*export.ImportResult, error) {
	userID := a.UserID()
	if userID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "no signed-in user")
	}
	return a.Export.Import(ctx, userID, cfg)
}

// Drain runs one queue drain pass.
func (a *App) Drain(ctx context.Context) queue.DrainResult {
	return a.Queue.Drain(ctx)
}

// Status returns a snapshot of the core.
func (a *App) Status(ctx context.Context) Status {
	st := Status{
		UserID:       a.UserID(),
		Connectivity: a.Monitor.State(),
		SyncStatus:   a.Sync.Status(),
		LastSync:     a.Sync.LastSync(),
		Queue:        a.Queue.Stats(ctx),
		Cache:        a.Cache.Stats(),
		Scheduler:    a.Scheduler.GetStatus(ctx),
	}
	if err := a.Sync.LastError(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

// Close stops background work and releases the database and remote client.
func (a *App) Close() error {
	a.mu.Lock()
	cancel, group := a.cancel, a.group
	a.started = false
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.Scheduler.Stop()
	a.Backups.Stop()
	var runErr error
	if group != nil {
		runErr = group.Wait()
	}
	a.Monitor.Wait()
	a.Queue.Wait()
	a.Sync.Close()
	telemetry.Flush(2 * time.Second)

	if err := a.closeAll(); err != nil {
		return err
	}
	return runErr
}

func (a *App) closeAll() error {
	var firstErr error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
