package knowledge

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed samples/*.md
var sampleFS embed.FS

// WriteSamples copies the bundled sample documents into dir, leaving any
// existing file untouched.
func WriteSamples(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(sampleFS, "samples")
	if err != nil {
		return nil, err
	}
	var written []string
	for _, e := range entries {
		target := filepath.Join(dir, e.Name())
		if _, err := os.Stat(target); err == nil {
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return written, err
		}
		data, err := sampleFS.ReadFile("samples/" + e.Name())
		if err != nil {
			return written, err
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return written, err
		}
		written = append(written, target)
	}
	return written, nil
}

// IngestSample writes the sample documents to dir (the configured sample_dir
// when empty) and ingests them.
func (b *Base) IngestSample(ctx context.Context, dir string) (IngestReport, error) {
	if dir == "" {
		dir = b.cfg.SampleDir
	}
	if _, err := WriteSamples(dir); err != nil {
		return IngestReport{}, fmt.Errorf("write samples: %w", err)
	}
	return b.IngestPath(ctx, dir)
}
