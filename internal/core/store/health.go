package store

import (
	"context"
	"strconv"
	"time"

	"vrdf/internal/core/hooks"
	"vrdf/internal/shared/observability"
	"vrdf/internal/shared/util"
)

// Health reports the state of the log and basic store statistics for the
// /health endpoint.
func (s *Store) Health(ctx context.Context) observability.HealthStatus {
	status := observability.HealthStatus{
		Status:    "up",
		Timestamp: time.Now().UTC(),
		Components: map[string]string{
			"datasets":         strconv.Itoa(len(s.index.Datasets())),
			"versions":         strconv.Itoa(s.index.Len()),
			"open_changesets":  strconv.Itoa(len(s.txns.OpenDatasets())),
			"heap_alloc_mb":    strconv.FormatUint(util.GetHeapAllocMB(), 10),
			"checkpoints":      "disabled",
			"hooks_precommit":  strconv.Itoa(len(s.hooks.Names(hooks.Precommit))),
			"hooks_postcommit": strconv.Itoa(len(s.hooks.Names(hooks.Postcommit))),
		},
	}
	if s.checkpoints != nil {
		status.Components["checkpoints"] = s.cfg.Checkpoint.Backend
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.log.Ping(pingCtx); err != nil {
		status.Status = "degraded"
		status.Components["log"] = "down: " + err.Error()
	} else {
		status.Components["log"] = "up"
	}
	if s.spool != nil {
		if n, err := s.spool.Pending(pingCtx); err != nil {
			status.Status = "degraded"
			status.Components["notify_outbox"] = "down: " + err.Error()
		} else {
			status.Components["notify_outbox"] = strconv.Itoa(n)
		}
	}
	return status
}
