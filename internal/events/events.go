// Package events publishes platform events to NATS.
//
// Subjects, under a configurable prefix (default "federated"):
//   - {prefix}.status                        monitor snapshots
//   - {prefix}.violations                    scan results
//   - {prefix}.operations.{id}.{phase}       started, progress, completed, failed
//
// A nil *Publisher is valid and publishes nothing.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/federated/internal/logging"
)

// Operation phases.
const (
	PhaseStarted   = "started"
	PhaseProgress  = "progress"
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
)

// Publisher sends JSON events over a NATS connection.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
	logger *logging.Logger
}

// Connect dials url. An empty url returns a nil Publisher.
func Connect(url, prefix string, logger *logging.Logger) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}
	nc, err := nats.Connect(url,
		nats.Name("federated"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	p := NewPublisher(nc, prefix, logger)
	p.owned = true
	return p, nil
}

// NewPublisher wraps an existing connection. The caller keeps ownership.
func NewPublisher(nc *nats.Conn, prefix string, logger *logging.Logger) *Publisher {
	if prefix == "" {
		prefix = "federated"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger}
}

// Subject returns prefix.suffix.
func (p *Publisher) Subject(suffix string) string {
	return p.prefix + "." + suffix
}

func (p *Publisher) publish(ctx context.Context, subject string, v any) error {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn(ctx, "event publish failed", zap.String("subject", subject), zap.Error(err))
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Status publishes a status snapshot.
func (p *Publisher) Status(ctx context.Context, v any) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, p.Subject("status"), v)
}

// Violations publishes scan results.
func (p *Publisher) Violations(ctx context.Context, v any) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, p.Subject("violations"), v)
}

// Flush waits for published events to reach the server.
func (p *Publisher) Flush(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.nc.FlushWithContext(ctx)
}

// Close drains the connection if the publisher opened it.
func (p *Publisher) Close() {
	if p == nil || !p.owned {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}

// Event is the payload of an operation event.
type Event struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Phase     string    `json:"phase"`
	Percent   int       `json:"percent,omitempty"`
	Message   string    `json:"message,omitempty"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Operation tracks one long-running unit of work.
type Operation struct {
	ID   string
	Kind string
	p    *Publisher
}

// StartOperation assigns an id and publishes the started event. It always
// returns a usable Operation.
func (p *Publisher) StartOperation(ctx context.Context, kind string) *Operation {
	op := &Operation{ID: uuid.New().String(), Kind: kind, p: p}
	_ = op.emit(ctx, Event{Phase: PhaseStarted})
	return op
}

func (o *Operation) emit(ctx context.Context, e Event) error {
	if o.p == nil {
		return nil
	}
	e.ID = o.ID
	e.Kind = o.Kind
	e.Timestamp = time.Now().UTC()
	return o.p.publish(ctx, o.p.Subject(fmt.Sprintf("operations.%s.%s", o.ID, e.Phase)), e)
}

// Progress publishes a progress event.
func (o *Operation) Progress(ctx context.Context, percent int, message string) error {
	return o.emit(ctx, Event{Phase: PhaseProgress, Percent: percent, Message: message})
}

// Complete publishes the completed event with result.
func (o *Operation) Complete(ctx context.Context, result any) error {
	return o.emit(ctx, Event{Phase: PhaseCompleted, Percent: 100, Result: result})
}

// Fail publishes the failed event.
func (o *Operation) Fail(ctx context.Context, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return o.emit(ctx, Event{Phase: PhaseFailed, Error: msg})
}
