// Package audit implements AuditEmitter (§4.11), grounded on the reference
// codebase's AuditLogger: a bounded in-process channel drained by a single
// goroutine into a batch SQL writer. One deliberate redesign from the
// reference (recorded in SPEC_FULL.md and DESIGN.md): on a full channel
// this implementation drops the entry and increments a counter instead of
// falling back to a blocking direct write, per §4.11's explicit
// requirement that the audit path never backpressures the hot path.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"

	"github.com/cerberusgw/gateway/internal/obslog"
)

const (
	queueSize    = 10000
	usageQueueSize = 10000
	batchSize    = 100
	flushInterval = 2 * time.Second
)

// Emitter accepts Decision and UsageUpdate records on bounded channels and
// drains them to Postgres in batches.
type Emitter struct {
	db     *sql.DB
	logger *obslog.Logger

	decisions   chan Decision
	usageUpdates chan UsageUpdate

	dropped        atomic.Int64
	usageDropped   atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
}

// New creates an Emitter and starts its background drain loops. Callers
// must call Close on shutdown to flush any buffered entries.
func New(db *sql.DB, logger *obslog.Logger) *Emitter {
	e := &Emitter{
		db:           db,
		logger:       logger,
		decisions:    make(chan Decision, queueSize),
		usageUpdates: make(chan UsageUpdate, usageQueueSize),
		shutdown:     make(chan struct{}),
	}
	e.wg.Add(2)
	go e.drainDecisions()
	go e.drainUsage()
	return e
}

// Emit enqueues an AuditDecision. Never blocks: on a full channel the entry
// is dropped and DroppedCount is incremented.
func (e *Emitter) Emit(d Decision) {
	select {
	case e.decisions <- d:
	default:
		n := e.dropped.Add(1)
		e.logger.Warn(obslog.Fields{RequestID: d.RequestID, TenantID: d.TenantID},
			"audit decision dropped: channel full", map[string]interface{}{"total_dropped": n})
	}
}

// EmitUsage enqueues a fire-and-forget last_used_at/usage_count bump.
func (e *Emitter) EmitUsage(u UsageUpdate) {
	select {
	case e.usageUpdates <- u:
	default:
		e.usageDropped.Add(1)
	}
}

// DroppedCount returns the number of AuditDecisions dropped since startup.
func (e *Emitter) DroppedCount() int64 { return e.dropped.Load() }

func (e *Emitter) drainDecisions() {
	defer e.wg.Done()
	batch := make([]Decision, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		e.writeDecisions(batch)
		batch = batch[:0]
	}

	for {
		select {
		case d := <-e.decisions:
			batch = append(batch, d)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-e.shutdown:
			// Drain whatever is left without blocking further.
			for {
				select {
				case d := <-e.decisions:
					batch = append(batch, d)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (e *Emitter) writeDecisions(batch []Decision) {
	if e.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		e.logger.Error(obslog.Fields{}, "audit batch begin tx failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_decisions
			(decision_id, request_id, tenant_id, workspace_id, agent_id, direction,
			 method, tool_name, final_action, per_guardrail_events, processing_time_ms,
			 client_disconnected, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`)
	if err != nil {
		e.logger.Error(obslog.Fields{}, "audit batch prepare failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer stmt.Close()

	for _, d := range batch {
		eventsJSON, _ := json.Marshal(d.GuardrailEvents)
		if _, err := stmt.ExecContext(ctx, d.DecisionID, d.RequestID, d.TenantID, d.WorkspaceID,
			d.AgentID, d.Direction, d.Method, d.ToolName, d.FinalAction, eventsJSON,
			d.ProcessingTimeMs, d.ClientDisconnected, d.Timestamp); err != nil {
			e.logger.Error(obslog.Fields{RequestID: d.RequestID}, "audit row insert failed", map[string]interface{}{"error": err.Error()})
		}
	}

	if err := tx.Commit(); err != nil {
		e.logger.Error(obslog.Fields{}, "audit batch commit failed", map[string]interface{}{"error": err.Error()})
	}
}

func (e *Emitter) drainUsage() {
	defer e.wg.Done()
	for {
		select {
		case u := <-e.usageUpdates:
			e.applyUsage(u)
		case <-e.shutdown:
			for {
				select {
				case u := <-e.usageUpdates:
					e.applyUsage(u)
				default:
					return
				}
			}
		}
	}
}

func (e *Emitter) applyUsage(u UsageUpdate) {
	if e.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := e.db.ExecContext(ctx,
		`UPDATE agent_access_keys SET last_used_at = $1, usage_count = usage_count + 1 WHERE id = $2`,
		u.UsedAt, u.AccessKeyID)
	if err != nil {
		e.logger.Warn(obslog.Fields{}, "usage update failed", map[string]interface{}{"error": err.Error(), "access_key_id": u.AccessKeyID})
	}
}

// Close signals both drain loops to flush and exit, then waits for them.
func (e *Emitter) Close() {
	close(e.shutdown)
	e.wg.Wait()
}
