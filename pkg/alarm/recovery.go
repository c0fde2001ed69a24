package alarm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cuemby/telemetry-collector/internal/telemetry/log"
	"github.com/cuemby/telemetry-collector/pkg/model"
)

const (
	// RecoveryBatchSize caps how many occurrences are republished per batch,
	// so recovery never floods the pub/sub transport on a large restart.
	RecoveryBatchSize = 200

	recoveryMaxRetries uint64 = 5
)

// RecoveryProgress is reported back to the caller (e.g. the control API)
// as recovery proceeds, per §4.11's progress-reporting requirement.
type RecoveryProgress struct {
	Total     int
	Published int
	Skipped   int
	Done      bool
	Err       error
}

// Recovery republishes active (and acknowledged, non-terminal) occurrences
// on process startup, so subscribers that restarted don't lose track of
// in-flight alarms (§4.11).
type Recovery struct {
	store     Store
	publisher Publisher
	rules     *RuleCache

	paused  atomic.Bool
	cancel  atomic.Bool
	mu      sync.Mutex
	seen    map[int64]bool
}

func NewRecovery(store Store, publisher Publisher, rules *RuleCache) *Recovery {
	return &Recovery{store: store, publisher: publisher, rules: rules, seen: make(map[int64]bool)}
}

// Pause halts the recovery loop after its current batch finishes.
func (r *Recovery) Pause() { r.paused.Store(true) }

// Resume un-pauses a previously paused recovery run.
func (r *Recovery) Resume() { r.paused.Store(false) }

// Cancel stops the recovery run permanently; Run returns once the current
// batch (if any) finishes.
func (r *Recovery) Cancel() { r.cancel.Store(true) }

// Run loads every non-terminal occurrence for tenantID and republishes it
// in batches of RecoveryBatchSize, deduplicating by occurrence id across
// Run calls on the same Recovery (the seen set is held in memory and does
// not survive a process restart), retrying each occurrence's publish with
// exponential backoff. progress, if non-nil, receives one
// update per batch plus a final Done update.
func (r *Recovery) Run(ctx context.Context, tenantID string, sourceName, location string, progress func(RecoveryProgress)) error {
	occs, err := r.store.LoadActiveOccurrences(tenantID)
	if err != nil {
		return fmt.Errorf("alarm: recovery: loading active occurrences: %w", err)
	}

	logger := log.WithComponent("alarm-recovery").With().Str("tenant_id", tenantID).Logger()
	logger.Info().Int("count", len(occs)).Msg("startup recovery: loaded active occurrences")

	total := len(occs)
	published := 0
	skipped := 0

	for i := 0; i < len(occs); i += RecoveryBatchSize {
		if r.cancel.Load() {
			break
		}
		for r.paused.Load() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}

		end := i + RecoveryBatchSize
		if end > len(occs) {
			end = len(occs)
		}
		batch := occs[i:end]

		for _, occ := range batch {
			r.mu.Lock()
			dup := r.seen[occ.ID]
			r.seen[occ.ID] = true
			r.mu.Unlock()
			if dup {
				skipped++
				continue
			}

			var evt model.AlarmEvent
			if rule, ok := r.rules.Get(occ.RuleID); ok {
				evt = model.NewAlarmEvent(*rule, occ, 0, sourceName, location)
			} else {
				evt = model.AlarmEvent{
					OccurrenceID:     occ.ID,
					RuleID:           occ.RuleID,
					TenantID:         occ.TenantID,
					Severity:         occ.Severity.String(),
					State:            string(occ.State),
					Message:          occ.Message,
					TriggerValue:     occ.TriggerValue,
					TriggerCondition: occ.TriggeredCondition,
					OccurrenceTime:   occ.OccurrenceTime,
					SourceName:       sourceName,
					Location:         location,
				}
			}

			publishOp := func() error {
				return r.publisher.PublishAlarmEvent(model.ChannelAlarmEvent, evt)
			}
			boff := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), recoveryMaxRetries)
			if err := backoff.Retry(publishOp, backoff.WithContext(boff, ctx)); err != nil {
				logger.Error().Int64("occurrence_id", occ.ID).Err(err).Msg("startup recovery: publish failed after retries")
				skipped++
				continue
			}
			published++
		}

		if progress != nil {
			progress(RecoveryProgress{Total: total, Published: published, Skipped: skipped})
		}
	}

	if progress != nil {
		progress(RecoveryProgress{Total: total, Published: published, Skipped: skipped, Done: true})
	}
	return nil
}
