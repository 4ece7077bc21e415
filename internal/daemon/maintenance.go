package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"mediaconv/internal/logging"
)

// MaintenanceResult reports what one maintenance pass changed.
type MaintenanceResult struct {
	Purged    int64
	Reclaimed int64
}

func (d *Daemon) startMaintenance(ctx context.Context) (*cron.Cron, error) {
	schedule := d.cfg.Maintenance.Schedule
	if schedule == "" {
		return nil, nil
	}
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(schedule, func() {
		if _, err := d.RunMaintenance(ctx); err != nil {
			logging.WarnWithContext(d.logger, "queue maintenance failed", "maintenance_failed", logging.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule maintenance %q: %w", schedule, err)
	}
	scheduler.Start()
	d.logger.Info("queue maintenance scheduled", logging.String("schedule", schedule))
	return scheduler, nil
}

// RunMaintenance purges terminal items older than the retention window and
// reclaims processing items whose heartbeat expired. Concurrent calls share
// one pass.
func (d *Daemon) RunMaintenance(ctx context.Context) (MaintenanceResult, error) {
	value, err, _ := d.maintenance.Do("maintenance", func() (any, error) {
		return d.runMaintenance(ctx)
	})
	result, _ := value.(MaintenanceResult)
	return result, err
}

func (d *Daemon) runMaintenance(ctx context.Context) (MaintenanceResult, error) {
	var result MaintenanceResult
	if days := d.cfg.Maintenance.RetentionDays; days > 0 {
		cutoff := time.Now().AddDate(0, 0, -days)
		purged, err := d.store.PurgeFinished(ctx, cutoff)
		if err != nil {
			return result, err
		}
		result.Purged = purged
	}

	if _, timeout := d.cfg.Workflow.Heartbeat(); timeout > 0 {
		reclaimed, err := d.store.ReclaimStaleProcessing(ctx, time.Now().Add(-timeout))
		if err != nil {
			return result, err
		}
		result.Reclaimed = reclaimed
	}

	d.logger.Info("queue maintenance finished",
		logging.String(logging.FieldEventType, "maintenance_complete"),
		logging.Int64("purged", result.Purged),
		logging.Int64("reclaimed", result.Reclaimed),
	)
	return result, nil
}
