package deps

import (
	"os"
	"path/filepath"
	"testing"

	"quaver/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Unset", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}

	if !results[0].Available {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}

	if results[1].Available {
		t.Fatalf("expected missing binary to be unavailable")
	}
	if results[1].Detail == "" {
		t.Fatalf("expected detail message for missing binary")
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}

	if results[2].Available {
		t.Fatalf("expected unset command to be unavailable")
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for unset command: %s", results[2].Detail)
	}
}

func TestRequirementsCoverEveryTool(t *testing.T) {
	cfg := config.Default()
	reqs := Requirements(&cfg)
	if len(reqs) != 6 {
		t.Fatalf("expected 6 requirements, got %d", len(reqs))
	}

	commands := make(map[string]struct{}, len(reqs))
	for _, req := range reqs {
		if req.Command == "" {
			t.Fatalf("requirement %s has no command", req.Name)
		}
		if req.Optional {
			t.Fatalf("requirement %s should not be optional", req.Name)
		}
		commands[req.Command] = struct{}{}
	}
	for _, want := range []string{"audiveris", "mscore", "quaver-remap", "fluidsynth", "basic-pitch", "lilypond"} {
		if _, ok := commands[want]; !ok {
			t.Fatalf("default requirements missing %s", want)
		}
	}
}

func TestRequirementsNilConfig(t *testing.T) {
	if reqs := Requirements(nil); reqs != nil {
		t.Fatalf("expected nil requirements for nil config, got %#v", reqs)
	}
}
