package export

import (
	"context"
	"testing"

	"quaver/internal/config"
	"quaver/internal/logging"
	"quaver/internal/queue"
)

func TestNewUploaderNilWhenDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Export.Enabled = false

	uploader, err := NewUploader(&cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewUploader: %v", err)
	}
	if uploader != nil {
		t.Fatal("expected nil uploader when export disabled")
	}
	if uploader.Enabled() {
		t.Fatal("nil uploader must report disabled")
	}
}

func TestNewUploaderRequiresEndpointAndBucket(t *testing.T) {
	cfg := config.Default()
	cfg.Export.Enabled = true
	cfg.Export.Endpoint = ""
	if _, err := NewUploader(&cfg, logging.NewNop()); err == nil {
		t.Fatal("expected error for missing endpoint")
	}

	cfg.Export.Endpoint = "minio.local:9000"
	cfg.Export.Bucket = ""
	if _, err := NewUploader(&cfg, logging.NewNop()); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}

func TestNilUploaderIsInert(t *testing.T) {
	var uploader *Uploader
	if err := uploader.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("EnsureBucket on nil: %v", err)
	}
	key, err := uploader.UploadArtifact(context.Background(), &queue.Job{ID: "x"}, queue.ArtifactRef{})
	if err != nil || key != "" {
		t.Fatalf("UploadArtifact on nil: key=%q err=%v", key, err)
	}
}

func TestObjectKeyLayout(t *testing.T) {
	withPrefix := &Uploader{prefix: "renders"}
	got := withPrefix.objectKey("4f9d2c6a", "/var/lib/quaver/artifacts/4f9d2c6a/performance.wav")
	if got != "renders/4f9d2c6a/performance.wav" {
		t.Fatalf("unexpected object key %q", got)
	}

	noPrefix := &Uploader{}
	got = noPrefix.objectKey("4f9d2c6a", "/var/lib/quaver/artifacts/4f9d2c6a/notation.pdf")
	if got != "4f9d2c6a/notation.pdf" {
		t.Fatalf("unexpected object key %q", got)
	}
}
