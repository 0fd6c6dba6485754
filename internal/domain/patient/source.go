package patient

import (
	"context"
	"fmt"
	"os"
)

// Source produces the patient table once at startup.
type Source interface {
	Load(ctx context.Context) (*Table, error)
}

// FileSource loads the table from a CSV file on disk.
type FileSource struct {
	Path    string
	Options LoadOptions
}

// NewFileSource creates a file source with the given load options.
func NewFileSource(path string, opts LoadOptions) *FileSource {
	return &FileSource{Path: path, Options: opts}
}

func (s *FileSource) Load(ctx context.Context) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.Path, err)
	}
	defer f.Close()

	t, err := ReadCSV(f, s.Options)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.Path, err)
	}
	return t, nil
}
