package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"quaver/internal/config"
	"quaver/internal/logging"
)

const userAgent = "Quaver/0.1.0"

// Event identifies a job lifecycle milestone.
type Event string

const (
	EventJobQueued    Event = "job_queued"
	EventJobCompleted Event = "job_completed"
	EventJobFailed    Event = "job_failed"
	EventJobCancelled Event = "job_cancelled"
)

// Payload carries the fields a sink may render for one event. Well-known
// keys: jobID, kind, source, stage, error, artifact.
type Payload map[string]string

// Service is the notification surface exposed to workflow components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
	Test(ctx context.Context) error
	Close()
}

// Noop returns a service that silently drops every event.
func Noop() Service { return noopService{} }

// NewService builds the configured notification sinks. With no ntfy topic
// and no NATS URL configured it returns a no-op service.
func NewService(cfg *config.Config, logger *slog.Logger) (Service, error) {
	log := logging.NewComponentLogger(logger, "notifications")

	var sinks []Service
	if topic := strings.TrimSpace(cfg.Notifications.NtfyTopic); topic != "" {
		timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		sinks = append(sinks, &ntfySink{
			endpoint: topic,
			token:    strings.TrimSpace(cfg.Notifications.NtfyToken),
			client:   &http.Client{Timeout: timeout},
		})
	}
	if url := strings.TrimSpace(cfg.Notifications.NATSURL); url != "" {
		conn, err := nats.Connect(url,
			nats.Name("quaver"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.Timeout(5*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					log.Warn("event bus disconnected", logging.Error(err))
				}
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info("event bus reconnected", logging.String("url", nc.ConnectedUrl()))
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("connect event bus: %w", err)
		}
		sinks = append(sinks, &natsSink{conn: conn, prefix: subjectPrefix(cfg)})
	}

	if len(sinks) == 0 {
		return noopService{}, nil
	}
	return &filtered{
		inner: fanout(sinks),
		allow: map[Event]bool{
			EventJobQueued:    cfg.Notifications.Queued,
			EventJobCompleted: cfg.Notifications.Completed,
			EventJobFailed:    cfg.Notifications.Failed,
			EventJobCancelled: cfg.Notifications.Cancelled,
		},
	}, nil
}

func subjectPrefix(cfg *config.Config) string {
	prefix := strings.TrimSpace(cfg.Notifications.NATSSubjectPrefix)
	if prefix == "" {
		prefix = "quaver.jobs"
	}
	return strings.TrimSuffix(prefix, ".")
}

// SubjectFor maps an event onto its NATS subject under the given prefix.
func SubjectFor(prefix string, event Event) string {
	suffix := "event"
	switch event {
	case EventJobQueued:
		suffix = "queued"
	case EventJobCompleted:
		suffix = "completed"
	case EventJobFailed:
		suffix = "failed"
	case EventJobCancelled:
		suffix = "cancelled"
	}
	return prefix + "." + suffix
}

// filtered drops events the configuration suppresses before they reach any
// sink.
type filtered struct {
	inner Service
	allow map[Event]bool
}

func (f *filtered) Publish(ctx context.Context, event Event, payload Payload) error {
	if !f.allow[event] {
		return nil
	}
	return f.inner.Publish(ctx, event, payload)
}

func (f *filtered) Test(ctx context.Context) error { return f.inner.Test(ctx) }

func (f *filtered) Close() { f.inner.Close() }

// fanout delivers every event to all configured sinks and joins their
// errors.
type fanout []Service

func (f fanout) Publish(ctx context.Context, event Event, payload Payload) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Publish(ctx, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) Test(ctx context.Context) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Test(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) Close() {
	for _, sink := range f {
		sink.Close()
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfySink struct {
	endpoint string
	token    string
	client   *http.Client
}

func (n *ntfySink) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := formatMessage(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func formatMessage(event Event, payload Payload) (message, bool) {
	kind := strings.TrimSpace(payload["kind"])
	if kind == "" {
		kind = "conversion"
	}
	switch event {
	case EventJobQueued:
		source := filepath.Base(strings.TrimSpace(payload["source"]))
		return message{
			title: "Quaver - Job Queued",
			body:  fmt.Sprintf("🎼 Queued %s: %s", kind, source),
			tags:  []string{"quaver", "job", "queued"},
		}, true
	case EventJobCompleted:
		artifact := filepath.Base(strings.TrimSpace(payload["artifact"]))
		return message{
			title:    "Quaver - Job Complete",
			body:     fmt.Sprintf("✅ %s complete: %s", kind, artifact),
			tags:     []string{"quaver", "job", "completed"},
			priority: "high",
		}, true
	case EventJobFailed:
		stage := strings.TrimSpace(payload["stage"])
		if stage == "" {
			stage = "unknown stage"
		}
		reason := strings.TrimSpace(payload["error"])
		if reason == "" {
			reason = "unknown error"
		}
		return message{
			title:    "Quaver - Job Failed",
			body:     fmt.Sprintf("❌ %s failed at %s: %s", kind, stage, reason),
			tags:     []string{"quaver", "job", "failed"},
			priority: "high",
		}, true
	case EventJobCancelled:
		return message{
			title: "Quaver - Job Cancelled",
			body:  fmt.Sprintf("🛑 %s cancelled: %s", kind, shortID(payload["jobID"])),
			tags:  []string{"quaver", "job", "cancelled"},
		}, true
	default:
		return message{}, false
	}
}

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (n *ntfySink) Test(ctx context.Context) error {
	return n.send(ctx, message{
		title:    "Quaver - Test",
		body:     "🧪 Notification system test",
		tags:     []string{"quaver", "test"},
		priority: "low",
	})
}

func (n *ntfySink) Close() {}

func (n *ntfySink) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// envelope is the JSON document published to the event bus.
type envelope struct {
	Event      Event             `json:"event"`
	JobID      string            `json:"job_id,omitempty"`
	Kind       string            `json:"kind,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Fields     map[string]string `json:"fields,omitempty"`
}

type natsSink struct {
	conn   *nats.Conn
	prefix string
}

func (s *natsSink) Publish(_ context.Context, event Event, payload Payload) error {
	env := envelope{
		Event:      event,
		JobID:      payload["jobID"],
		Kind:       payload["kind"],
		OccurredAt: time.Now().UTC(),
		Fields:     payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := s.conn.Publish(SubjectFor(s.prefix, event), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (s *natsSink) Test(_ context.Context) error {
	env := envelope{Event: "test", OccurredAt: time.Now().UTC()}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.conn.Publish(s.prefix+".test", data)
}

func (s *natsSink) Close() {
	if s.conn != nil {
		_ = s.conn.Drain()
	}
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
func (noopService) Test(context.Context) error                    { return nil }
func (noopService) Close()                                        {}
