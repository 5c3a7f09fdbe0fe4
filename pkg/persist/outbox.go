package persist

import (
	"context"
	"time"

	"github.com/maxBogovick/relmem/pkg/sqlparser"
	"github.com/maxBogovick/relmem/pkg/storage"
)

// OutboxEntry is one declarative side-effect specification produced by
// a command handler (spec §4.J "Outbox"): enqueued as a row in the
// aggregate's sibling `<name>__outbox` table, polled by an external (or
// in-process, see OutboxDispatcher) dispatcher.
type OutboxEntry struct {
	ID          string
	AggregateID string
	Kind        string
	Payload     string
	Dispatched  bool
	CreatedAt   int64
}

// EnqueueOutbox appends an outbox row. Like appendAudit, callers invoke
// this inside an already-open Session transaction so the side-effect
// spec is durable exactly when the state change that produced it is.
func (a *AutonomousAggregate[T, D, P, C]) EnqueueOutbox(aggregateID, kind, payload string) error {
	_, err := a.session.ExecuteStatement(&sqlparser.InsertStatement{
		Table:   outboxTable(a.name),
		Columns: []string{"id", "aggregate_id", "kind", "payload", "dispatched", "created_at"},
		Values: [][]sqlparser.Expr{{
			lit(storage.GenerateKey()),
			lit(aggregateID),
			lit(kind),
			lit(payload),
			lit(false),
			lit(nowMillis()),
		}},
	})
	return err
}

// PendingOutbox returns every undispatched outbox row, in insertion
// order (engine scans return primary-index order, which is
// insertion/creation order for this table's TEXT uuid keys... in
// practice the dispatcher doesn't depend on ordering beyond "eventually
// every row gets visited").
func (a *AutonomousAggregate[T, D, P, C]) PendingOutbox() ([]OutboxEntry, error) {
	res, err := a.session.ExecuteStatement(&sqlparser.SelectStatement{
		Columns: []sqlparser.SelectItem{{Expr: &sqlparser.Star{}}},
		From:    &sqlparser.TableRef{Name: outboxTable(a.name)},
		Where:   eq("dispatched", false),
	})
	if err != nil {
		return nil, newDomainError(DomainInternal, "pending_outbox", err)
	}
	idxOf := make(map[string]int, len(res.Columns))
	for i, c := range res.Columns {
		idxOf[c] = i
	}
	out := make([]OutboxEntry, 0, len(res.Rows))
	for _, row := range res.Rows {
		e := OutboxEntry{}
		if i, ok := idxOf["id"]; ok {
			e.ID = row[i].Text()
		}
		if i, ok := idxOf["aggregate_id"]; ok {
			e.AggregateID = row[i].Text()
		}
		if i, ok := idxOf["kind"]; ok {
			e.Kind = row[i].Text()
		}
		if i, ok := idxOf["payload"]; ok && !row[i].IsNull() {
			e.Payload = row[i].Text()
		}
		if i, ok := idxOf["dispatched"]; ok {
			e.Dispatched = row[i].Bool()
		}
		if i, ok := idxOf["created_at"]; ok {
			e.CreatedAt = row[i].Int()
		}
		out = append(out, e)
	}
	return out, nil
}

// markDispatched flips one outbox row's dispatched flag, its own
// single-statement implicit transaction — dispatch acknowledgement is
// deliberately decoupled from the transaction that created the row.
func (a *AutonomousAggregate[T, D, P, C]) markDispatched(id string) error {
	_, err := a.session.ExecuteStatement(&sqlparser.UpdateStatement{
		Table: outboxTable(a.name),
		Set:   []sqlparser.Assignment{{Column: "dispatched", Value: lit(true)}},
		Where: eq("id", id),
	})
	return err
}

// OutboxHandler processes one dispatched side-effect. A non-nil error
// leaves the row undispatched so the next poll retries it.
type OutboxHandler func(OutboxEntry) error

// OutboxDispatcher is the in-process stand-in for the external
// dispatcher spec §4.J describes: a bounded, cooperative goroutine that
// polls PendingOutbox on an interval and hands each row to handler,
// marking it dispatched only on success.
type OutboxDispatcher struct {
	agg      pendingOutboxSource
	handler  OutboxHandler
	interval time.Duration
}

// pendingOutboxSource is the slice of AutonomousAggregate an
// OutboxDispatcher needs; kept as an interface so the dispatcher isn't
// itself generic over T/D/P/C.
type pendingOutboxSource interface {
	PendingOutbox() ([]OutboxEntry, error)
	ackDispatched(id string) error
}

func (a *AutonomousAggregate[T, D, P, C]) ackDispatched(id string) error { return a.markDispatched(id) }

// NewOutboxDispatcher wires handler to agg's outbox. Call Run in its
// own goroutine; it returns when ctx is cancelled.
func NewOutboxDispatcher[T, D, P, C any](agg *AutonomousAggregate[T, D, P, C], interval time.Duration, handler OutboxHandler) *OutboxDispatcher {
	return &OutboxDispatcher{agg: agg, handler: handler, interval: interval}
}

// Run polls until ctx is cancelled, processing at most one batch per
// tick — cooperative, not a tight spin loop.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.dispatchOnce()
		}
	}
}

func (d *OutboxDispatcher) dispatchOnce() {
	pending, err := d.agg.PendingOutbox()
	if err != nil {
		return
	}
	for _, entry := range pending {
		if err := d.handler(entry); err != nil {
			continue
		}
		_ = d.agg.ackDispatched(entry.ID)
	}
}
