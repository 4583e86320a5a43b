package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRun_VersionFlag(t *testing.T) {
	code := run([]string{"--version"})
	if code != 0 {
		t.Fatalf("expected exit code 0 for --version, got %d", code)
	}
}

func TestRun_VersionCommand(t *testing.T) {
	code := run([]string{"version"})
	if code != 0 {
		t.Fatalf("expected exit code 0 for version command, got %d", code)
	}
}

func TestRun_NoArgs(t *testing.T) {
	code := run([]string{})
	if code != 2 {
		t.Fatalf("expected exit code 2 for no args, got %d", code)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	code := run([]string{"invalid"})
	if code != 2 {
		t.Fatalf("expected exit code 2 for unknown command, got %d", code)
	}
}

func TestRun_InvalidGlobalFlag(t *testing.T) {
	code := run([]string{"--nope"})
	if code != 2 {
		t.Fatalf("expected exit code 2 for invalid flag, got %d", code)
	}
}

func TestRun_SubcommandInvalidFlags(t *testing.T) {
	for _, cmd := range []string{"serve", "chat", "mcp"} {
		t.Run(cmd, func(t *testing.T) {
			if code := run([]string{cmd, "--invalid-flag"}); code != 2 {
				t.Fatalf("expected exit code 2 for %s with invalid flag, got %d", cmd, code)
			}
		})
	}
}

func TestRunServe_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	code := run([]string{"serve", "--config", t.TempDir()})
	if code != 2 {
		t.Fatalf("expected exit code 2 without an API key, got %d", code)
	}
}

func TestRunServe_BrokenConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".streamchat.yaml"), []byte("server: [\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	code := run([]string{"serve", "--echo", "--config", dir})
	if code != 2 {
		t.Fatalf("expected exit code 2 for a broken config, got %d", code)
	}
}

func TestRunServe_ListenError(t *testing.T) {
	code := run([]string{"serve", "--echo", "--config", t.TempDir(), "--addr", "256.0.0.1:0"})
	if code != 2 {
		t.Fatalf("expected exit code 2 for an unusable address, got %d", code)
	}
}

func TestRunMCP_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	code := run([]string{"mcp", "--config", t.TempDir()})
	if code != 2 {
		t.Fatalf("expected exit code 2 without an API key, got %d", code)
	}
}

func TestRunMCP_MissingSeed(t *testing.T) {
	code := run([]string{"mcp", "--echo", "--config", t.TempDir(), "--seed", filepath.Join(t.TempDir(), "none.yaml")})
	if code != 2 {
		t.Fatalf("expected exit code 2 for a missing seed file, got %d", code)
	}
}
