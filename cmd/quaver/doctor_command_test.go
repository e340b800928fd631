package main

import (
	"testing"
)

func TestCLIDoctorWithDaemonUp(t *testing.T) {
	env := setupCLITestEnv(t)

	stdout, _, err := runCLI(t, env.configPath, "doctor")
	if err != nil {
		t.Fatalf("doctor: %v", err)
	}
	requireContains(t, stdout, "== Preflight ==")
	requireContains(t, stdout, "Artifacts directory")
	requireContains(t, stdout, "audiveris")
	requireContains(t, stdout, "== Daemon ==")
	requireContains(t, stdout, "healthy (pid")
	requireContains(t, stdout, "Registry")
	requireContains(t, stdout, "sqlite")
}

func TestCLIDoctorWithDaemonDown(t *testing.T) {
	env := setupOfflineEnv(t)

	stdout, _, err := runCLI(t, env.configPath, "doctor")
	if err != nil {
		t.Fatalf("doctor should report findings, not fail: %v", err)
	}
	requireContains(t, stdout, "== Preflight ==")
	requireContains(t, stdout, "== Daemon ==")
	requireContains(t, stdout, "[WARN] not reachable at 127.0.0.1:1")
	requireContains(t, stdout, "start it with `quaverd`")
}
