// Package bulk walks the equipment catalog and acquires images for the
// equivalence groups that need them, biggest groups first. Groups are
// processed strictly sequentially with a politeness delay so target sites
// never see a request burst, and a failing group never takes down the run.
package bulk

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/kmakela/gearbase/internal/capture"
	"github.com/kmakela/gearbase/internal/datastore"
	"github.com/kmakela/gearbase/internal/logging"
	"github.com/kmakela/gearbase/internal/metrics"
)

var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "bulk.log")
	serviceLevelVar.Set(slog.LevelInfo)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "bulk", serviceLevelVar)
	if err != nil {
		log.Printf("FATAL: Failed to initialize bulk file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "bulk")
		closeLogger = func() error { return nil }
	}
}

// Acquirer runs one acquisition attempt. Satisfied by *capture.Orchestrator.
type Acquirer interface {
	Acquire(ctx context.Context, req capture.Request) capture.Result
}

// Propagator spreads an acquired image across an equivalence group.
// Satisfied by *equivcache.Service.
type Propagator interface {
	Propagate(equipment *datastore.Equipment, imagePath string) (int, error)
}

// GroupDetail records the outcome for one processed group.
type GroupDetail struct {
	Manufacturer string
	Model        string
	GroupSize    int64
	Success      bool
	Method       capture.Method
	ImagePath    string
	Filled       int
	Reason       string
}

// Summary is the result of a bulk run. It is always populated, even when the
// run was cancelled or aborted partway: whatever completed stays counted.
type Summary struct {
	Processed int
	Success   int
	Failed    int
	Details   []GroupDetail
	Duration  time.Duration
}

// Scheduler drives sequential bulk acquisition.
type Scheduler struct {
	store      datastore.Interface
	acquirer   Acquirer
	propagator Propagator
	metrics    *metrics.AcquisitionMetrics

	maxGroups  int
	groupDelay time.Duration
	destDir    string
}

// Config holds scheduler tuning knobs.
type Config struct {
	MaxGroups  int           // cap on groups per run
	GroupDelay time.Duration // politeness pause between groups
	DestDir    string        // where acquired images land
}

// New creates a bulk scheduler. metrics may be nil.
func New(store datastore.Interface, acquirer Acquirer, propagator Propagator, m *metrics.AcquisitionMetrics, cfg Config) *Scheduler {
	if cfg.MaxGroups <= 0 {
		cfg.MaxGroups = 10
	}
	if cfg.GroupDelay <= 0 {
		cfg.GroupDelay = 1 * time.Second
	}
	return &Scheduler{
		store:      store,
		acquirer:   acquirer,
		propagator: propagator,
		metrics:    m,
		maxGroups:  cfg.MaxGroups,
		groupDelay: cfg.GroupDelay,
		destDir:    cfg.DestDir,
	}
}

// Run processes up to MaxGroups image-less equivalence groups, largest first.
// Cancellation via ctx stops before the next group; the summary always
// reflects the work already done.
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	summary := Summary{}

	groups, err := s.store.EligibleGroups(s.maxGroups)
	if err != nil {
		summary.Duration = time.Since(start)
		return summary, err
	}

	logger.Info("Bulk run starting", "eligible_groups", len(groups), "max_groups", s.maxGroups)

	for i := range groups {
		if err := ctx.Err(); err != nil {
			logger.Warn("Bulk run cancelled", "processed", summary.Processed)
			summary.Duration = time.Since(start)
			return summary, err
		}

		detail := s.processGroup(ctx, &groups[i])
		summary.Processed++
		summary.Details = append(summary.Details, detail)
		if detail.Success {
			summary.Success++
			if s.metrics != nil {
				s.metrics.IncrementBulkGroups("success")
			}
		} else {
			summary.Failed++
			if s.metrics != nil {
				s.metrics.IncrementBulkGroups("failed")
			}
		}

		if i < len(groups)-1 {
			select {
			case <-time.After(s.groupDelay):
			case <-ctx.Done():
			}
		}
	}

	summary.Duration = time.Since(start)
	logger.Info("Bulk run finished",
		"processed", summary.Processed,
		"success", summary.Success,
		"failed", summary.Failed,
		"duration_ms", summary.Duration.Milliseconds())

	return summary, nil
}

// processGroup acquires an image for one group's representative record and
// propagates it. A panic anywhere inside is contained to this group.
func (s *Scheduler) processGroup(ctx context.Context, group *datastore.EquipmentGroup) (detail GroupDetail) {
	detail = GroupDetail{
		Manufacturer: group.Manufacturer,
		Model:        group.Model,
		GroupSize:    group.Count,
	}

	defer func() {
		if r := recover(); r != nil {
			detail.Success = false
			detail.Reason = fmt.Sprintf("panic: %v", r)
			logger.Error("Panic while processing group",
				"manufacturer", group.Manufacturer,
				"model", group.Model,
				"panic", r)
		}
	}()

	groupLogger := logger.With(
		"manufacturer", group.Manufacturer,
		"model", group.Model,
		"group_size", group.Count)

	result := s.acquirer.Acquire(ctx, capture.Request{
		Manufacturer: group.Manufacturer,
		Model:        group.Model,
		Name:         group.Name,
		DestDir:      s.destDir,
	})

	if !result.Success {
		detail.Reason = result.Reason
		groupLogger.Info("Group acquisition failed", "reason", result.Reason)
		return detail
	}

	detail.Success = true
	detail.Method = result.Method
	detail.ImagePath = result.ImagePath

	representative, err := s.store.GetEquipment(group.RepresentativeID)
	if err != nil {
		groupLogger.Warn("Failed to load representative record, skipping propagation",
			"representative_id", group.RepresentativeID, "error", err)
		return detail
	}

	if err := s.store.UpdateImagePath(representative.ID, result.ImagePath); err != nil {
		groupLogger.Warn("Failed to store image path on representative",
			"representative_id", representative.ID, "error", err)
		return detail
	}

	filled, err := s.propagator.Propagate(&representative, result.ImagePath)
	if err != nil {
		groupLogger.Warn("Propagation failed", "error", err)
		return detail
	}
	detail.Filled = filled

	groupLogger.Info("Group processed",
		"method", string(result.Method),
		"path", result.ImagePath,
		"filled", filled)

	return detail
}

// Close flushes the scheduler logger.
func Close() {
	if closeLogger != nil {
		if err := closeLogger(); err != nil {
			log.Printf("Error closing bulk logger: %v", err)
		}
	}
}
