package sheet

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileSystemStore writes rendered sheets to a directory
type FileSystemStore struct {
	dir       string // The directory keys will be relative to
	exporters []Exporter
}

// NewFileSystemStore creates a store that renders every sheet with each of the given exporters
func NewFileSystemStore(dir string, exporters ...Exporter) *FileSystemStore {
	return &FileSystemStore{
		dir:       dir,
		exporters: exporters,
	}
}

// Save renders the sheet in every format and writes <dir>/<key><ext> for each, returning the written paths
func (fss *FileSystemStore) Save(key string, s Sheet) ([]string, error) {
	if err := os.MkdirAll(fss.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	var paths []string
	for _, e := range fss.exporters {
		b, err := e.Export(s)
		if err != nil {
			return paths, fmt.Errorf("failed to export %s: %w", e.FileExtension(), err)
		}
		path := filepath.Join(fss.dir, key+e.FileExtension())
		if err := os.WriteFile(path, b, 0644); err != nil {
			return paths, fmt.Errorf("failed to write file: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
