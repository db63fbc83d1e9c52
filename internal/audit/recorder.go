// Package audit records security-relevant actions into an append-only log,
// serves filtered reads and exports, and fans records out to live
// subscribers.
package audit

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"opsboard.org/internal/auth"
	"opsboard.org/internal/ids"
	"opsboard.org/internal/obs"
)

const (
	defaultQueryLimit = 200
	maxQueryLimit     = 1000
)

// Publisher receives every successfully appended record.
type Publisher interface {
	Publish(rec auth.AuditRecord)
}

// Recorder persists audit records and distributes them to subscribers. It
// satisfies auth.AuditSink so the services write through it.
type Recorder struct {
	store auth.AuditStore
	pub   Publisher
	now   func() time.Time
}

// Option configures Recorder behavior.
type Option func(*Recorder)

// WithPublisher attaches a fan-out target for appended records.
func WithPublisher(pub Publisher) Option {
	return func(r *Recorder) {
		if pub != nil {
			r.pub = pub
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder on top of the given store.
func NewRecorder(store auth.AuditStore, opts ...Option) *Recorder {
	r := &Recorder{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Append persists the record, filling in id and timestamp when absent, and
// publishes it on success.
func (r *Recorder) Append(ctx context.Context, rec *auth.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = r.now().UTC()
	}
	if rec.Outcome == "" {
		rec.Outcome = auth.OutcomeSuccess
	}
	if err := r.store.Append(ctx, rec); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	if r.pub != nil {
		r.pub.Publish(*rec)
	}
	return nil
}

// Log appends best-effort: a failed write is counted and logged but never
// propagated, so audit trouble cannot fail the triggering operation.
func (r *Recorder) Log(ctx context.Context, rec *auth.AuditRecord) {
	if err := r.Append(ctx, rec); err != nil {
		obs.CountAuditAppendFailure()
		obs.Error("audit append failed", err)
	}
}

// Query returns matching records newest first. The limit is clamped to keep
// reads bounded.
func (r *Recorder) Query(ctx context.Context, filter auth.AuditFilter) ([]*auth.AuditRecord, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultQueryLimit
	}
	if filter.Limit > maxQueryLimit {
		filter.Limit = maxQueryLimit
	}
	return r.store.Query(ctx, filter)
}

// csvHeader matches the console's export format; every field is quoted.
var csvHeader = []string{"Timestamp", "User", "Action", "Resource", "Status", "IP Address", "Details"}

// WriteCSV renders records in the export format, all fields quoted including
// the header.
func WriteCSV(w io.Writer, records []*auth.AuditRecord) error {
	if err := writeCSVRow(w, csvHeader); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			rec.OccurredAt.UTC().Format(time.RFC3339),
			exportActor(rec),
			rec.Action,
			exportResource(rec),
			rec.Outcome,
			rec.IPAddress,
			rec.Detail,
		}
		if err := writeCSVRow(w, row); err != nil {
			return err
		}
	}
	return nil
}

// writeCSVRow quotes every field unconditionally, which encoding/csv cannot
// be told to do.
func writeCSVRow(w io.Writer, fields []string) error {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

func exportActor(rec *auth.AuditRecord) string {
	if rec.ActorEmail != "" {
		return rec.ActorEmail
	}
	return rec.ActorUserID
}

func exportResource(rec *auth.AuditRecord) string {
	if rec.ResourceID != "" {
		return rec.ResourceType + "/" + rec.ResourceID
	}
	return rec.ResourceType
}
