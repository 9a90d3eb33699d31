package cli

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestEnvLoaderLoadsFlagPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.env")
	if err := os.WriteFile(path, []byte("DEDUP_ENV_TEST_VALUE=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv(OverrideEnvVar, "")
	t.Setenv("DEDUP_ENV_TEST_VALUE", "")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	loader := AddEnvFlag(fs, "does-not-exist.env", "")
	if err := fs.Parse([]string{"--env", path}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	loaded, err := loader.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if loaded != path {
		t.Fatalf("loaded %q, want %q", loaded, path)
	}
	if got := os.Getenv("DEDUP_ENV_TEST_VALUE"); got != "from-file" {
		t.Fatalf("env value = %q", got)
	}
}

func TestEnvLoaderMissingFile(t *testing.T) {
	t.Setenv(OverrideEnvVar, "")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	loader := AddEnvFlag(fs, filepath.Join(t.TempDir(), "missing.env"), "")
	if _, err := loader.Load(); err == nil {
		t.Fatalf("expected missing env file to fail")
	}
}
