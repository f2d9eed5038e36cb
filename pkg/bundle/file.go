package bundle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/vyvo/bundlecast/pkg/fault"
)

// FileSource reads the bundle from the local filesystem.
type FileSource struct {
	path string
}

var _ Source = (*FileSource)(nil)

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Describe() string { return s.path }

// Load checks that the file exists and reads it whole.
func (s *FileSource) Load(ctx context.Context) (Bundle, error) {
	if err := ctx.Err(); err != nil {
		return Bundle{}, err
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Bundle{}, fault.Config("load bundle", fmt.Errorf("%s: %w", s.path, ErrMissing))
		}
		return Bundle{}, fault.Config("load bundle", err)
	}
	if info.IsDir() {
		return Bundle{}, fault.Config("load bundle", fmt.Errorf("%s is a directory", s.path))
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		// The file can disappear between stat and read.
		if errors.Is(err, fs.ErrNotExist) {
			return Bundle{}, fault.Config("load bundle", fmt.Errorf("%s: %w", s.path, ErrMissing))
		}
		return Bundle{}, fault.Config("read bundle", err)
	}
	return newBundle(data, s.path), nil
}
