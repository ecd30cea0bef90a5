// Package assets holds the default prompt templates and system text,
// embedded via go:embed so a bare binary works without any files on disk.
package assets

import (
	_ "embed"
	"os"
	"path/filepath"
)

//go:embed prompts.yaml
var prompts []byte

//go:embed system.md
var system string

// Prompts returns the default prompt templates document.
func Prompts() []byte {
	out := make([]byte, len(prompts))
	copy(out, prompts)
	return out
}

// System returns the default system text.
func System() string {
	return system
}

// WriteDefaults writes the embedded prompts.yaml and system.md into dir so
// they can be customised. Existing files are left alone unless overwrite is set.
// It returns the paths that were written.
func WriteDefaults(dir string, overwrite bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	files := []struct {
		name string
		data []byte
	}{
		{"prompts.yaml", prompts},
		{"system.md", []byte(system)},
	}

	var written []string
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if !overwrite {
			if _, err := os.Stat(path); err == nil {
				continue
			}
		}
		if err := os.WriteFile(path, f.data, 0o644); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}
