// cache.go - Aufloesung von Modelldateien im HuggingFace Cache
// Kompatibel mit der Python huggingface_hub Cache-Struktur
// (models--org--name/{refs,snapshots}). Es wird nichts heruntergeladen.
package huggingface

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/moshigo/moshi/envconfig"
)

// Cache-Konstanten
const (
	DefaultCacheSubdir = "huggingface/hub"
	CacheRefDir        = "refs"
	CacheSnapshotDir   = "snapshots"
	CacheModelPrefix   = "models--"

	EnvHFHome     = "HF_HOME"
	EnvHFHubCache = "HF_HUB_CACHE"
)

// Repositories und Dateien der Sprach- und Codec-Gewichte
const (
	DefaultModelRepo = "kyutai/stt-1b-en_fr-mlx"
	VocabRepo        = "lmz/moshi-swift"
	ModelFile        = "model.safetensors"
	MimiFile         = "mimi-pytorch-e351c8d8@125.safetensors"
)

var ErrModelNotInCache = errors.New("modell nicht im cache")

// GetCacheDir gibt das Cache-Verzeichnis zurueck
func GetCacheDir() string {
	if cacheDir := os.Getenv(EnvHFHubCache); cacheDir != "" {
		return cacheDir
	}
	if hfHome := os.Getenv(EnvHFHome); hfHome != "" {
		return filepath.Join(hfHome, "hub")
	}
	return getDefaultCacheDir()
}

func getDefaultCacheDir() string {
	var baseDir string
	switch runtime.GOOS {
	case "windows":
		if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
			baseDir = filepath.Join(userProfile, ".cache")
		} else {
			baseDir = filepath.Join(os.TempDir(), "huggingface_cache")
		}
	default:
		if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
			baseDir = xdgCache
		} else if home, err := os.UserHomeDir(); err == nil {
			baseDir = filepath.Join(home, ".cache")
		} else {
			baseDir = filepath.Join(os.TempDir(), "huggingface_cache")
		}
	}
	return filepath.Join(baseDir, DefaultCacheSubdir)
}

// snapshotDir folgt refs/<revision> zum Commit-Hash. Fehlt die Referenz,
// wird die Revision selbst als Snapshot-Name versucht.
func snapshotDir(modelID, revision string) string {
	repoDir := filepath.Join(GetCacheDir(), modelIDToCacheDir(modelID))
	if b, err := os.ReadFile(filepath.Join(repoDir, CacheRefDir, revision)); err == nil {
		if hash := strings.TrimSpace(string(b)); hash != "" {
			return filepath.Join(repoDir, CacheSnapshotDir, hash)
		}
	}
	return filepath.Join(repoDir, CacheSnapshotDir, revision)
}

// GetCachedFile gibt den Pfad zu einer Datei im Cache zurueck
func GetCachedFile(modelID, filename string) (string, bool) {
	return GetCachedFileWithRevision(modelID, filename, "main")
}

// GetCachedFileWithRevision gibt den Pfad zu einer Datei mit Revision zurueck
func GetCachedFileWithRevision(modelID, filename, revision string) (string, bool) {
	filePath := filepath.Join(snapshotDir(modelID, revision), filename)
	if stat, err := os.Stat(filePath); err == nil && !stat.IsDir() {
		return filePath, true
	}
	return "", false
}

// Resolve sucht filename zuerst in MOSHI_MODELS (flach oder unter
// <org>/<name>), danach im Cache unter der Revision main.
func Resolve(modelID, filename string) (string, error) {
	if dir := envconfig.Models(); dir != "" {
		for _, p := range []string{
			filepath.Join(dir, filename),
			filepath.Join(dir, filepath.FromSlash(modelID), filename),
		} {
			if stat, err := os.Stat(p); err == nil && !stat.IsDir() {
				return p, nil
			}
		}
	}

	if p, ok := GetCachedFile(modelID, filename); ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: %s/%s (cache %s)", ErrModelNotInCache, modelID, filename, GetCacheDir())
}

// ListCachedModels gibt alle gecachten Modelle zurueck
func ListCachedModels() ([]string, error) {
	cacheDir := GetCacheDir()
	if _, err := os.Stat(cacheDir); os.IsNotExist(err) {
		return []string{}, nil
	}
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("cache lesen fehlgeschlagen: %w", err)
	}
	var models []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), CacheModelPrefix) {
			models = append(models, cacheDirToModelID(entry.Name()))
		}
	}
	return models, nil
}

func modelIDToCacheDir(modelID string) string {
	return CacheModelPrefix + strings.ReplaceAll(modelID, "/", "--")
}

func cacheDirToModelID(cacheDir string) string {
	return strings.Replace(strings.TrimPrefix(cacheDir, CacheModelPrefix), "--", "/", 1)
}
