package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/research-assistant/internal/helpers"
	"go.uber.org/zap"
)

var (
	supportedExtensions = map[string]bool{
		".md": true, ".markdown": true, ".txt": true, ".text": true, ".html": true, ".htm": true,
	}
	htmlTitle = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
)

// LoadPath reads a supported file, or every supported file under a
// directory, into documents. HTML is reduced to readable text.
func LoadPath(path string) ([]Document, []string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	var files []string
	if info.IsDir() {
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && supportedExtensions[strings.ToLower(filepath.Ext(p))] {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
		sort.Strings(files)
	} else {
		files = []string{path}
	}

	var (
		docs    []Document
		skipped []string
	)
	for _, f := range files {
		doc, err := loadFile(f)
		if err != nil {
			skipped = append(skipped, f)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, skipped, nil
}

func loadFile(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	text := string(raw)
	title := ""
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		if m := htmlTitle.FindStringSubmatch(text); m != nil {
			title = helpers.SanitizeHTMLStrict(m[1])
		}
		text = helpers.HTMLToText(text)
	}
	if strings.TrimSpace(text) == "" {
		return Document{}, fmt.Errorf("%s: empty document", path)
	}
	if title == "" {
		title = titleFromText(text, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	}
	return Document{Source: path, Title: title, Text: text}, nil
}

// IngestPath loads path and ingests what it finds.
func (b *Base) IngestPath(ctx context.Context, path string) (IngestReport, error) {
	docs, skipped, err := LoadPath(path)
	if err != nil {
		return IngestReport{}, err
	}
	if len(skipped) > 0 {
		b.logger.Warn("skipped unreadable files", zap.Strings("files", skipped))
	}
	report, err := b.Ingest(ctx, docs)
	report.Skipped = append(report.Skipped, skipped...)
	return report, err
}
