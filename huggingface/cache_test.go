// cache_test.go - Unit Tests fuer die Cache-Aufloesung
package huggingface

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestGetCacheDir testet die Ermittlung des Cache-Verzeichnisses
func TestGetCacheDir(t *testing.T) {
	tests := []struct {
		name         string
		hfHubCache   string
		hfHome       string
		wantContains string
	}{
		{
			name:         "HF_HUB_CACHE hat Prioritaet",
			hfHubCache:   "/custom/cache/path",
			hfHome:       "/other/path",
			wantContains: "/custom/cache/path",
		},
		{
			name:         "HF_HOME wird verwendet wenn HF_HUB_CACHE leer",
			hfHome:       "/hf/home",
			wantContains: "hub",
		},
		{
			name:         "Default wird verwendet wenn beide leer",
			wantContains: "huggingface",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvHFHubCache, tt.hfHubCache)
			t.Setenv(EnvHFHome, tt.hfHome)

			result := GetCacheDir()

			if tt.hfHubCache != "" && result != tt.hfHubCache {
				t.Errorf("GetCacheDir() = %v, erwartet %v", result, tt.hfHubCache)
			} else if !strings.Contains(result, tt.wantContains) {
				t.Errorf("GetCacheDir() = %v, sollte %v enthalten", result, tt.wantContains)
			}
		})
	}
}

// TestCacheDirRoundTrip testet Hin- und Rueckkonvertierung
func TestCacheDirRoundTrip(t *testing.T) {
	tests := []struct {
		modelID  string
		cacheDir string
	}{
		{DefaultModelRepo, "models--kyutai--stt-1b-en_fr-mlx"},
		{VocabRepo, "models--lmz--moshi-swift"},
	}

	for _, tt := range tests {
		t.Run(tt.modelID, func(t *testing.T) {
			if got := modelIDToCacheDir(tt.modelID); got != tt.cacheDir {
				t.Errorf("modelIDToCacheDir(%q) = %q, erwartet %q", tt.modelID, got, tt.cacheDir)
			}
			if got := cacheDirToModelID(tt.cacheDir); got != tt.modelID {
				t.Errorf("cacheDirToModelID(%q) = %q, erwartet %q", tt.cacheDir, got, tt.modelID)
			}
		})
	}
}

// writeSnapshot legt eine Cache-Struktur wie huggingface_hub an
func writeSnapshot(t *testing.T, cacheDir, modelID, hash, filename string) string {
	t.Helper()
	repoDir := filepath.Join(cacheDir, modelIDToCacheDir(modelID))
	snapshot := filepath.Join(repoDir, CacheSnapshotDir, hash)
	if err := os.MkdirAll(snapshot, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(repoDir, CacheRefDir), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repoDir, CacheRefDir, "main"), []byte(hash+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(snapshot, filename)
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestGetCachedFile testet die Aufloesung ueber refs/main
func TestGetCachedFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv(EnvHFHubCache, tmpDir)

	if _, found := GetCachedFile(DefaultModelRepo, ModelFile); found {
		t.Error("GetCachedFile sollte false fuer leeren Cache zurueckgeben")
	}

	want := writeSnapshot(t, tmpDir, DefaultModelRepo, "e351c8d8", ModelFile)
	path, found := GetCachedFile(DefaultModelRepo, ModelFile)
	if !found || path != want {
		t.Errorf("GetCachedFile = %q, %v, erwartet %q", path, found, want)
	}

	if _, found := GetCachedFileWithRevision(DefaultModelRepo, ModelFile, "e351c8d8"); !found {
		t.Error("Snapshot sollte auch ueber den Hash gefunden werden")
	}
	if _, found := GetCachedFile(DefaultModelRepo, MimiFile); found {
		t.Error("fehlende Datei sollte nicht gefunden werden")
	}
}

// TestResolve testet die Reihenfolge MOSHI_MODELS vor Cache
func TestResolve(t *testing.T) {
	cacheDir := t.TempDir()
	modelsDir := t.TempDir()
	t.Setenv(EnvHFHubCache, cacheDir)
	t.Setenv("MOSHI_MODELS", "")

	_, err := Resolve(VocabRepo, "tokenizer_spm_8k_0.json")
	if !errors.Is(err, ErrModelNotInCache) {
		t.Fatalf("Resolve() Fehler = %v, erwartet ErrModelNotInCache", err)
	}

	cached := writeSnapshot(t, cacheDir, VocabRepo, "abc", "tokenizer_spm_8k_0.json")
	if path, err := Resolve(VocabRepo, "tokenizer_spm_8k_0.json"); err != nil || path != cached {
		t.Errorf("Resolve() = %q, %v, erwartet %q", path, err, cached)
	}

	override := filepath.Join(modelsDir, "tokenizer_spm_8k_0.json")
	if err := os.WriteFile(override, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MOSHI_MODELS", modelsDir)
	if path, err := Resolve(VocabRepo, "tokenizer_spm_8k_0.json"); err != nil || path != override {
		t.Errorf("Resolve() = %q, %v, erwartet Override %q", path, err, override)
	}
}

// TestListCachedModels testet die Auflistung
func TestListCachedModels(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv(EnvHFHubCache, tmpDir)

	writeSnapshot(t, tmpDir, DefaultModelRepo, "a", ModelFile)
	if err := os.MkdirAll(filepath.Join(tmpDir, "datasets--x--y"), 0o755); err != nil {
		t.Fatal(err)
	}

	models, err := ListCachedModels()
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 1 || models[0] != DefaultModelRepo {
		t.Errorf("ListCachedModels() = %v, erwartet [%s]", models, DefaultModelRepo)
	}
}
