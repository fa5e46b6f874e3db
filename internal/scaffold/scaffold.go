// Package scaffold creates new project directories from embedded templates:
// a config/ set ready to edit and the data/ layout the pipeline expects.
package scaffold

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed templates
var templates embed.FS

// dataDirs are created empty; the pipeline reads source CSVs from
// data/source and writes csv targets to data/target.
var dataDirs = []string{
	"data/source",
	"data/target",
	"data/lookups",
}

// Create materializes a new project at projectPath. The directory must not
// already exist.
func Create(projectPath string) error {
	if _, err := os.Stat(projectPath); err == nil {
		return fmt.Errorf("scaffold: %s already exists", projectPath)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("scaffold: stat %s: %w", projectPath, err)
	}

	err := fs.WalkDir(templates, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel("templates", path)
		if err != nil {
			return err
		}
		dst := filepath.Join(projectPath, rel)

		if d.IsDir() {
			return os.MkdirAll(dst, 0o755)
		}
		raw, err := templates.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(dst, raw, 0o644)
	})
	if err != nil {
		return fmt.Errorf("scaffold: create %s: %w", projectPath, err)
	}

	for _, dir := range dataDirs {
		if err := os.MkdirAll(filepath.Join(projectPath, dir), 0o755); err != nil {
			return fmt.Errorf("scaffold: create %s: %w", dir, err)
		}
	}
	return nil
}
