package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"quaver/internal/config"
	"quaver/internal/logging"
	"quaver/internal/notifications"
)

func newService(t *testing.T, cfg *config.Config) notifications.Service {
	t.Helper()
	svc, err := notifications.NewService(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func TestNewServiceReturnsNoopWhenNothingConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	cfg.Notifications.NATSURL = ""

	svc := newService(t, &cfg)
	err := svc.Publish(context.Background(), notifications.EventJobCompleted, notifications.Payload{
		"kind": "sheet-to-audio",
	})
	if err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "job queued",
			event: notifications.EventJobQueued,
			payload: notifications.Payload{
				"jobID":  "4f9d2c6a-1b3e-4c5d-8e7f-9a0b1c2d3e4f",
				"kind":   "sheet-to-audio",
				"source": "/home/anna/scores/nocturne.png",
			},
			expectTitle:   "Quaver - Job Queued",
			expectMessage: "🎼 Queued sheet-to-audio: nocturne.png",
			expectTags:    "quaver,job,queued",
		},
		{
			name:  "job completed",
			event: notifications.EventJobCompleted,
			payload: notifications.Payload{
				"kind":     "sheet-to-audio",
				"artifact": "/var/lib/quaver/artifacts/4f9d2c6a/performance.wav",
			},
			expectTitle:    "Quaver - Job Complete",
			expectMessage:  "✅ sheet-to-audio complete: performance.wav",
			expectTags:     "quaver,job,completed",
			expectPriority: "high",
		},
		{
			name:  "job failed",
			event: notifications.EventJobFailed,
			payload: notifications.Payload{
				"kind":  "audio-to-sheet",
				"stage": "transcribe-audio",
				"error": "transcriber exited with status 1",
			},
			expectTitle:    "Quaver - Job Failed",
			expectMessage:  "❌ audio-to-sheet failed at transcribe-audio: transcriber exited with status 1",
			expectTags:     "quaver,job,failed",
			expectPriority: "high",
		},
		{
			name:  "job cancelled",
			event: notifications.EventJobCancelled,
			payload: notifications.Payload{
				"jobID": "4f9d2c6a-1b3e-4c5d-8e7f-9a0b1c2d3e4f",
				"kind":  "audio-to-sheet",
			},
			expectTitle:   "Quaver - Job Cancelled",
			expectMessage: "🛑 audio-to-sheet cancelled: 4f9d2c6a",
			expectTags:    "quaver,job,cancelled",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Fatalf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := newService(t, &cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceIgnoresSuppressedEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call for suppressed event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Queued = false
	cfg.Notifications.Completed = false
	cfg.Notifications.Failed = false
	cfg.Notifications.Cancelled = false

	svc := newService(t, &cfg)
	events := []notifications.Event{
		notifications.EventJobQueued,
		notifications.EventJobCompleted,
		notifications.EventJobFailed,
		notifications.EventJobCancelled,
	}
	for _, event := range events {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"kind": "sheet-to-audio"}); err != nil {
			t.Fatalf("expected no error for suppressed event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceSendsBearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.NtfyToken = "tk_example"

	svc := newService(t, &cfg)
	if err := svc.Publish(context.Background(), notifications.EventJobCompleted, notifications.Payload{"kind": "sheet-to-audio"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if gotAuth != "Bearer tk_example" {
		t.Fatalf("expected bearer token header, got %q", gotAuth)
	}
}

func TestSubjectForMapsEvents(t *testing.T) {
	cases := map[notifications.Event]string{
		notifications.EventJobQueued:    "quaver.jobs.queued",
		notifications.EventJobCompleted: "quaver.jobs.completed",
		notifications.EventJobFailed:    "quaver.jobs.failed",
		notifications.EventJobCancelled: "quaver.jobs.cancelled",
	}
	for event, want := range cases {
		if got := notifications.SubjectFor("quaver.jobs", event); got != want {
			t.Fatalf("expected subject %q for %s, got %q", want, event, got)
		}
	}
}
