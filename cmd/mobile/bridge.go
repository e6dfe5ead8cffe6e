package main

import (
	"context"
	"errors"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/kimhsiao/fitsync/backend/internal/app"
	"github.com/kimhsiao/fitsync/backend/internal/config"
	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/export"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
	"github.com/kimhsiao/fitsync/backend/internal/models"
	syncpkg "github.com/kimhsiao/fitsync/backend/internal/sync"
)

// maxBufferedEvents bounds the events held between two polls.
const maxBufferedEvents = 100

// response is the envelope of every FFI result.
type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error *errorBody  `json:"error,omitempty"`
}

type errorBody struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
}

// initOptions is the argument of Init.
type initOptions struct {
	DataDir    string `json:"dataDir"`
	ConfigPath string `json:"configPath,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
}

// bridge owns the core for the lifetime of the shared library.
type bridge struct {
	mu      sync.RWMutex
	core    *app.App
	lastErr string

	eventsMu sync.Mutex
	events   []syncpkg.Event
}

var errNotInitialized = apperrors.New(apperrors.ErrInvalid, "core not initialized")

func (b *bridge) ok(data interface{}) string {
	return encode(response{OK: true, Data: data})
}

func (b *bridge) fail(err error) string {
	body := &errorBody{Code: apperrors.CodeOf(err), Message: "internal error"}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		body.Message = appErr.Message
	}
	b.mu.Lock()
	b.lastErr = err.Error()
	b.mu.Unlock()
	return encode(response{Error: body})
}

func encode(resp response) string {
	data, err := json.Marshal(resp)
	if err != nil {
		logging.Error("Failed to encode FFI response", err)
		return `{"ok":false,"error":{"code":"INTERNAL_ERROR","message":"internal error"}}`
	}
	return string(data)
}

func (b *bridge) get() (*app.App, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.core == nil {
		return nil, errNotInitialized
	}
	return b.core, nil
}

// call runs fn against the core and encodes its result.
func (b *bridge) call(fn func(ctx context.Context, core *app.App) (interface{}, error)) string {
	core, err := b.get()
	if err != nil {
		return b.fail(err)
	}
	data, err := fn(context.Background(), core)
	if err != nil {
		return b.fail(err)
	}
	return b.ok(data)
}

func decodeArg(raw string, v interface{}) error {
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return apperrors.New(apperrors.ErrInvalid, "invalid JSON argument")
	}
	return nil
}

func (b *bridge) userID(core *app.App) (string, error) {
	userID := core.UserID()
	if userID == "" {
		return "", apperrors.New(apperrors.ErrInvalid, "not signed in")
	}
	return userID, nil
}

// Init opens the core. A second Init is a no-op.
func (b *bridge) Init(raw string) string {
	var opts initOptions
	if err := decodeArg(raw, &opts); err != nil {
		return b.fail(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.core != nil {
		return encode(response{OK: true})
	}

	var cfg *config.Config
	var err error
	if opts.ConfigPath != "" {
		cfg, err = config.LoadConfig(opts.ConfigPath)
		if err != nil {
			b.lastErr = err.Error()
			return encode(response{Error: &errorBody{Code: apperrors.ErrInvalid, Message: "invalid configuration"}})
		}
	} else {
		cfg = config.Default()
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.Timezone != "" {
		cfg.Timezone = opts.Timezone
	}
	app.InitLogging(cfg)

	core, err := app.New(context.Background(), cfg, app.Options{})
	if err != nil {
		b.lastErr = err.Error()
		return encode(response{Error: &errorBody{Code: apperrors.CodeOf(err), Message: "could not open the local database"}})
	}
	core.Sync.SetEventHandler(b.bufferEvent)
	core.Start(context.Background())
	b.core = core
	return encode(response{OK: true})
}

// Close stops the core. Init may be called again afterwards.
func (b *bridge) Close() string {
	b.mu.Lock()
	core := b.core
	b.core = nil
	b.mu.Unlock()
	if core == nil {
		return b.ok(nil)
	}
	if err := core.Close(); err != nil {
		return b.fail(apperrors.Wrap(apperrors.ErrDatabase, "close failed", err))
	}
	return b.ok(nil)
}

func (b *bridge) bufferEvent(ev syncpkg.Event) {
	b.eventsMu.Lock()
	defer b.eventsMu.Unlock()
	b.events = append(b.events, ev)
	if over := len(b.events) - maxBufferedEvents; over > 0 {
		b.events = b.events[over:]
	}
}

// PollEvents returns and clears the events buffered since the last poll.
func (b *bridge) PollEvents() string {
	b.eventsMu.Lock()
	events := b.events
	b.events = nil
	b.eventsMu.Unlock()
	if events == nil {
		events = []syncpkg.Event{}
	}
	return b.ok(events)
}

// LastError returns the detailed message of the last failure.
func (b *bridge) LastError() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastErr
}

func (b *bridge) SignIn(userID string) string {
	return b.call(func(ctx context.Context, core *app.App) (interface{}, error) {
		if err := core.SignIn(ctx, userID); err != nil {
			return nil, err
		}
		return core.Status(ctx), nil
	})
}

func (b *bridge) SignOut() string {
	return b.call(func(ctx context.Context, core *app.App) (interface{}, error) {
		core.SignOut()
		return nil, nil
	})
}

func (b *bridge) SetOnline(online bool) string {
	return b.call(func(ctx context.Context, core *app.App) (interface{}, error) {
		core.SetOnline(ctx, online)
		return core.Status(ctx), nil
	})
}

func (b *bridge) SyncNow() string {
	return b.call(func(ctx context.Context, core *app.App) (interface{}, error) {
		return core.SyncNow(ctx)
	})
}

func (b *bridge) Status() string {
	return b.call(func(ctx context.Context, core *app.App) (interface{}, error) {
		return core.Status(ctx), nil
	})
}

// foodArg is the argument of FoodAdd and FoodUpdate.
type foodArg struct {
	models.MealPayload
	Timestamp int64 `json:"timestamp,omitempty"`
}

func (b *bridge) FoodAdd(raw string) string {
	return b.call(func(ctx context.Context, core *app.App) (interface{}, error) {
		userID, err := b.userID(core)
		if err != nil {
			return nil, err
		}
		var arg foodArg
		if err := decodeArg(raw, &arg); err != nil {
			return nil, err
		}
		return core.Food.Add(ctx, userID, &arg.MealPayload, arg.Timestamp)
	})
}

func (b *bridge) FoodUpdate(id, raw string) string {
	return b.call(func(ctx context.Context, core *app.App) (interface{}, error) {
		userID, err := b.userID(core)
		if err != nil {
			return nil, err
		}
		var arg foodArg
		if err := decodeArg(raw, &arg); err != nil {
			return nil, err
		}
		return core.Food.Update(ctx, userID, id, &arg.MealPayload, arg.Timestamp)
	})
}

func (b *bridge) FoodList(page, pageSize int) string {
	return b.call(func(ctx context.Context, core *app.App) (interface{}, error) {
		userID, err := b.userID(core)
		if err != nil {
			return nil, err
		}
		return core.Food.List(ctx, userID, page, pageSize), nil
	})
}

func (b *bridge) FoodRemove(id string) string {
	return b.call(func(ctx context.Context, core *app.App) (interface{}, error) {
		userID, err := b.userID(core)
		if err != nil {
			return nil, err
		}
		return core.Food.Remove(ctx, userID, id)
	})
}

func (b *bridge) FoodUndo(raw string) string {
	return b.call(func(ctx context.Context, core *app.App) (interface{}, error) {
		userID, err := b.userID(core)
		if err != nil {
			return nil, err
		}
		var item models.RemovedItem
		if err := decodeArg(raw, &item); err != nil {
			return nil, err
		}
		if item.Record == nil || item.Record.UserID != userID {
			return nil, apperrors.New(apperrors.ErrInvalid, "nothing to undo")
		}
		return core.Food.UndoRemove(ctx, &item)
	})
}

// FoodDailySummary reads the summary of date (YYYY-MM-DD, empty for today).
func (b *bridge) FoodDailySummary(date string) string {
	return b.call(func(ctx context.Context, core *app.App) (interface{}, error) {
		userID, err := b.userID(core)
		if err != nil {
			return nil, err
		}
		day, err := parseDay(core, date)
		if err != nil {
			return nil, err
		}
		return core.Food.DailySummary(ctx, userID, day)
	})
}

// FoodWeeklySummary reads the summary of the week containing date.
func (b *bridge) FoodWeeklySummary(date string) string {
	return b.call(func(ctx context.Context, core *app.App) (interface{}, error) {
		userID, err := b.userID(core)
		if err != nil {
			return nil, err
		}
		day, err := parseDay(core, date)
		if err != nil {
			return nil, err
		}
		return core.Food.WeeklySummary(ctx, userID, day)
	})
}

func parseDay(core *app.App, date string) (time.Time, error) {
	loc, err := core.Config.Location()
	if err != nil {
		return time.Time{}, err
	}
	if date == "" {
		return time.Now().In(loc), nil
	}
	day, err := time.ParseInLocation(time.DateOnly, date, loc)
	if err != nil {
		return time.Time{}, apperrors.New(apperrors.ErrInvalid, "invalid date: want YYYY-MM-DD")
	}
	return day, nil
}

// weightArg is the argument of WeightAdd.
type weightArg struct {
	models.WeightPayload
	Timestamp int64 `json:"timestamp,omitempty"`
}

func (b *bridge) WeightAdd(raw string) string {
	return b.call(func(ctx context.Context, core *app.App) (interface{}, error) {
		userID, err := b.userID(core)
		if err != nil {
			return nil, err
		}
		var arg weightArg
		if err := decodeArg(raw, &arg); err != nil {
			return nil, err
		}
		return core.Weight.Add(ctx, userID, &arg.WeightPayload, arg.Timestamp)
	})
}

func (b *bridge) WeightList(limit int) string {
	return b.call(func(ctx context.Context, core *app.App) (interface{}, error) {
		userID, err := b.userID(core)
		if err != nil {
			return nil, err
		}
		return core.Weight.List(ctx, userID, limit), nil
	})
}

func (b *bridge) WeightRemove(id string) string {
	return b.call(func(ctx context.Context, core *app.App) (interface{}, error) {
		userID, err := b.userID(core)
		if err != nil {
			return nil, err
		}
		return nil, core.Weight.Remove(ctx, userID, id)
	})
}

func (b *bridge) WeightStats() string {
	return b.call(func(ctx context.Context, core *app.App) (interface{}, error) {
		userID, err := b.userID(core)
		if err != nil {
			return nil, err
		}
		return core.Weight.GetStats(ctx, userID)
	})
}

func (b *bridge) WeightSetGoal(raw string) string {
	return b.call(func(ctx context.Context, core *app.App) (interface{}, error) {
		userID, err := b.userID(core)
		if err != nil {
			return nil, err
		}
		var goal models.WeightGoal
		if err := decodeArg(raw, &goal); err != nil {
			return nil, err
		}
		return core.Weight.SetGoal(ctx, userID, goal)
	})
}

// ExportData writes a backup archive. raw is {"outputPath", "password"},
// both optional.
func (b *bridge) ExportData(raw string) string {
	return b.call(func(ctx context.Context, core *app.App) (interface{}, error) {
		var cfg export.ExportConfig
		if raw != "" {
			if err := decodeArg(raw, &cfg); err != nil {
				return nil, err
			}
		}
		return core.ExportData(ctx, cfg)
	})
}

// ImportData restores a backup archive. raw is {"archivePath", "password"}.
func (b *bridge) ImportData(raw string) string {
	return b.call(func(ctx context.Context, core *app.App) (interface{}, error) {
		var cfg export.ImportConfig
		if err := decodeArg(raw, &cfg); err != nil {
			return nil, err
		}
		if cfg.ArchivePath == "" {
			return nil, apperrors.New(apperrors.ErrInvalid, "archivePath is required")
		}
		return core.ImportData(ctx, cfg)
	})
}
