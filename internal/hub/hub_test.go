package hub

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.MkdirAll(filepath.Dir(filepath.Join(dir, n)), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, n), []byte("{}"), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestResolve_LocalDir(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, TokenizerFile, ModelFile, ConfigFile)

	files, err := Resolver{}.Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if files.Dir != dir {
		t.Errorf("Dir = %s, want %s", files.Dir, dir)
	}
	if files.Tokenizer != filepath.Join(dir, TokenizerFile) {
		t.Errorf("Tokenizer = %s", files.Tokenizer)
	}
	if files.Model != filepath.Join(dir, ModelFile) {
		t.Errorf("Model = %s", files.Model)
	}
	if files.Config != filepath.Join(dir, ConfigFile) {
		t.Errorf("Config = %s", files.Config)
	}
}

func TestResolve_LocalDirWithoutConfig(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, TokenizerFile, ModelFile)

	files, err := Resolver{}.Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if files.Config != "" {
		t.Errorf("Config = %q, want empty", files.Config)
	}
}

func TestResolve_LocalDirOnnxSubdir(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, TokenizerFile, filepath.Join(OnnxDir, ModelFile))

	files, err := Resolver{}.Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if files.Model != filepath.Join(dir, OnnxDir, ModelFile) {
		t.Errorf("Model = %s", files.Model)
	}
}

func TestResolve_LocalDirMissingModel(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, TokenizerFile)

	_, err := Resolver{}.Resolve(context.Background(), dir)
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrModelNotFound", err)
	}
}

func TestResolve_Empty(t *testing.T) {
	_, err := Resolver{}.Resolve(context.Background(), "")
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrModelNotFound", err)
	}
}

func TestResolve_Download(t *testing.T) {
	id := os.Getenv("STSFIT_HUB_TEST_MODEL")
	if id == "" {
		t.Skip("STSFIT_HUB_TEST_MODEL not set, skipping hub download test")
	}

	files, err := Resolver{CacheDir: t.TempDir()}.Resolve(context.Background(), id)
	if err != nil {
		t.Fatalf("Resolve(%s) error: %v", id, err)
	}
	for _, p := range []string{files.Tokenizer, files.Model} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("downloaded file missing: %v", err)
		}
	}
}
