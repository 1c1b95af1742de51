// Package events publishes pipeline run lifecycle events to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ncecere/voice_gateway/internal/config"
	"github.com/ncecere/voice_gateway/internal/pipeline"
)

// Event is the JSON payload on every subject.
type Event struct {
	Type       string    `json:"type"`
	JobID      string    `json:"job_id"`
	Kind       string    `json:"kind"`
	Status     string    `json:"status"`
	Stage      string    `json:"stage,omitempty"`
	Backend    string    `json:"backend,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher sends run events to <prefix>.started, <prefix>.stage and
// <prefix>.finished. A nil Publisher drops everything.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	log    *slog.Logger
}

// Connect dials NATS. An empty URL disables events and returns nil.
func Connect(cfg config.EventsConfig, log *slog.Logger) (*Publisher, error) {
	url := strings.TrimSpace(cfg.NATSURL)
	if url == "" {
		return nil, nil
	}
	if log == nil {
		log = slog.Default()
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	conn, err := nats.Connect(url,
		nats.Name("voice-gateway"),
		nats.Timeout(timeout),
		nats.RetryOnFailedConnect(false),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	prefix := strings.Trim(strings.TrimSpace(cfg.SubjectPrefix), ".")
	if prefix == "" {
		prefix = "gateway.runs"
	}
	log = log.With(slog.String("component", "events"))
	log.Info("connected to NATS", slog.String("url", url), slog.String("subject_prefix", prefix))

	return &Publisher{conn: conn, prefix: prefix, log: log}, nil
}

func (p *Publisher) Close() {
	if p == nil {
		return
	}
	_ = p.conn.Drain()
	p.conn.Close()
}

func (p *Publisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}

func (p *Publisher) RunStarted(ctx context.Context, run *pipeline.Run) {
	p.publish(ctx, "started", newEvent("run.started", run))
}

func (p *Publisher) StageFinished(ctx context.Context, run *pipeline.Run, ev pipeline.StageEvent) {
	event := newEvent("run.stage", run)
	event.Stage = string(ev.Stage)
	event.Backend = ev.Backend
	event.DurationMS = ev.Duration.Milliseconds()
	if ev.Err != nil {
		event.Error = ev.Err.Error()
	}
	p.publish(ctx, "stage", event)
}

func (p *Publisher) RunFinished(ctx context.Context, run *pipeline.Run) {
	event := newEvent("run.finished", run)
	event.DurationMS = run.Duration().Milliseconds()
	if run.Err != nil {
		event.Stage = string(run.FailedStage)
		event.ErrorKind = string(run.Err.Kind)
		event.Error = run.Err.PublicMessage()
	}
	p.publish(ctx, "finished", event)
}

func newEvent(typ string, run *pipeline.Run) Event {
	return Event{
		Type:      typ,
		JobID:     run.ID,
		Kind:      string(run.Kind),
		Status:    string(run.Status),
		Timestamp: time.Now().UTC(),
	}
}

// publish never blocks the request path: nats.go buffers writes and
// failures are only logged.
func (p *Publisher) publish(ctx context.Context, suffix string, event Event) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.WarnContext(ctx, "encode event", slog.String("error", err.Error()))
		return
	}
	subject := p.prefix + "." + suffix
	if err := p.conn.Publish(subject, payload); err != nil {
		p.log.WarnContext(ctx, "publish event",
			slog.String("subject", subject),
			slog.String("job_id", event.JobID),
			slog.String("error", err.Error()),
		)
	}
}
