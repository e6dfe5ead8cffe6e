// Package scheduler provides automatic backup scheduling.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kimhsiao/fitsync/backend/internal/export"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
)

// ExportInterval defines the scheduling frequency.
type ExportInterval string

const (
	IntervalManual  ExportInterval = "manual"
	IntervalDaily   ExportInterval = "daily"
	IntervalWeekly  ExportInterval = "weekly"
	IntervalMonthly ExportInterval = "monthly"
)

// Valid reports whether i is a known interval.
func (i ExportInterval) Valid() bool {
	switch i {
	case IntervalManual, IntervalDaily, IntervalWeekly, IntervalMonthly:
		return true
	}
	return false
}

// Duration converts the interval to a time.Duration.
func (i ExportInterval) Duration() (time.Duration, error) {
	switch i {
	case IntervalDaily:
		return 24 * time.Hour, nil
	case IntervalWeekly:
		return 7 * 24 * time.Hour, nil
	case IntervalMonthly:
		// Approximate as 30 days
		return 30 * 24 * time.Hour, nil
	case IntervalManual:
		return 0, fmt.Errorf("manual interval has no duration")
	default:
		return 0, fmt.Errorf("unknown interval: %s", i)
	}
}

// SchedulerConfig holds the backup scheduler configuration.
type SchedulerConfig struct {
	Interval       ExportInterval `yaml:"interval" json:"interval"`
	RetentionCount int            `yaml:"retention_count" json:"retentionCount"` // 0 = unlimited
	Dir            string         `yaml:"dir" json:"dir,omitempty"`
	Password       string         `yaml:"password" json:"-"` // empty = no encryption
}

// DefaultSchedulerConfig returns the defaults: manual, keeping 7 archives.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Interval:       IntervalManual,
		RetentionCount: 7,
	}
}

// Exporter writes one backup archive.
type Exporter interface {
	Export(ctx context.Context, userID string, cfg export.ExportConfig) (*export.ExportResult, error)
}

// Scheduler manages automatic backups of the signed-in user.
type Scheduler struct {
	exporter Exporter
	user     func() string

	mu      sync.Mutex
	ctx     context.Context // set by Start
	config  SchedulerConfig
	period  time.Duration
	stopCh  chan struct{}
	running bool
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewScheduler creates a new backup scheduler. user returns the current
// user id, or "" when nobody is signed in.
func NewScheduler(exporter Exporter, user func() string, config SchedulerConfig) *Scheduler {
	if config.RetentionCount < 0 {
		config.RetentionCount = 0
	}
	return &Scheduler{
		exporter: exporter,
		user:     user,
		config:   config,
		now:      time.Now,
	}
}

// Start begins the automatic backup loop. Manual mode starts nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.ctx = ctx
	if s.config.Interval == IntervalManual || s.config.Interval == "" {
		logging.Info("Backup scheduler in manual mode", nil)
		return nil
	}

	period := s.period
	if period == 0 {
		dur, err := s.config.Interval.Duration()
		if err != nil {
			return fmt.Errorf("invalid interval: %w", err)
		}
		period = dur
	}

	s.stopCh = make(chan struct{})
	s.running = true
	s.wg.Add(1)
	go s.loop(ctx, period, s.stopCh)

	logging.Info("Backup scheduler started", map[string]interface{}{
		"interval":        string(s.config.Interval),
		"retention_count": s.config.RetentionCount,
	})
	return nil
}

func (s *Scheduler) loop(ctx context.Context, period time.Duration, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				logging.Error("Scheduled backup failed", err, nil)
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop shuts down the loop and waits for a running backup to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.running {
		close(s.stopCh)
		s.running = false
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunOnce backs up the current user and applies the retention policy.
// It returns nil, nil when nobody is signed in.
func (s *Scheduler) RunOnce(ctx context.Context) (*export.ExportResult, error) {
	userID := s.user()
	if userID == "" {
		logging.Debug("Backup skipped, no user signed in", nil)
		return nil, nil
	}
	cfg := s.GetConfig()

	result, err := s.exporter.Export(ctx, userID, export.ExportConfig{
		OutputPath: filepath.Join(cfg.Dir, export.ArchiveName(userID, s.now())),
		Password:   cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("backup failed: %w", err)
	}

	if cfg.RetentionCount > 0 {
		if err := applyRetentionPolicy(cfg.Dir, userID, cfg.RetentionCount); err != nil {
			logging.Error("Backup retention failed", err, map[string]interface{}{"dir": cfg.Dir})
		}
	}
	return result, nil
}

// applyRetentionPolicy removes the user's oldest archives beyond keep.
func applyRetentionPolicy(dir, userID string, keep int) error {
	archives, err := ListArchives(dir, userID)
	if err != nil {
		return fmt.Errorf("failed to list archives: %w", err)
	}
	if len(archives) <= keep {
		return nil
	}

	for _, archive := range archives[:len(archives)-keep] {
		if err := os.Remove(archive.Path); err != nil {
			logging.Warn("Failed to delete old archive", map[string]interface{}{
				"path":  archive.Path,
				"error": err.Error(),
			})
			continue
		}
		logging.Info("Deleted old archive", map[string]interface{}{"path": archive.Path})
	}
	return nil
}

// ArchiveInfo represents metadata about a backup archive.
type ArchiveInfo struct {
	Path      string    `json:"path"`
	SizeBytes int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListArchives returns userID's archives in dir, oldest first.
func ListArchives(dir, userID string) ([]*ArchiveInfo, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	prefix := "fitsync_" + userID + "_"
	var archives []*ArchiveInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".tar.gz") {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		archives = append(archives, &ArchiveInfo{
			Path:      filepath.Join(dir, name),
			SizeBytes: fi.Size(),
			CreatedAt: fi.ModTime(),
		})
	}

	// names embed the export time, so name order is age order
	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Path < archives[j].Path
	})
	return archives, nil
}

// UpdateConfig replaces the configuration. After Start the loop is
// restarted with the new interval.
func (s *Scheduler) UpdateConfig(config SchedulerConfig) error {
	if !config.Interval.Valid() {
		return fmt.Errorf("unknown interval: %s", config.Interval)
	}
	if config.RetentionCount < 0 {
		config.RetentionCount = 0
	}

	s.Stop()

	s.mu.Lock()
	s.config = config
	ctx := s.ctx
	s.mu.Unlock()

	if ctx == nil {
		return nil
	}
	return s.Start(ctx)
}

// GetConfig returns the current scheduler configuration.
func (s *Scheduler) GetConfig() SchedulerConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}
