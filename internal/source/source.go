// Package source enumerates Form 4 documents on the local filesystem.
package source

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LayoutDir is the directory the EDGAR downloader writes filings under,
// one subdirectory per ticker.
const LayoutDir = "sec-edgar-filings"

// Document is one filing on disk.
type Document struct {
	Path string
}

// Dir walks Root for *.xml files. When Tickers is set, files under
// sec-edgar-filings/<TICKER>/ are kept only for tracked tickers; files
// outside that layout are always kept.
type Dir struct {
	Root    string
	Tickers []string
}

// Documents returns every matching file sorted by path. A missing Root
// yields an empty list.
func (d Dir) Documents(ctx context.Context) ([]Document, error) {
	if _, err := os.Stat(d.Root); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	tracked := make(map[string]bool, len(d.Tickers))
	for _, t := range d.Tickers {
		tracked[strings.ToUpper(strings.TrimSpace(t))] = true
	}

	var docs []Document
	err := filepath.WalkDir(d.Root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() || !strings.EqualFold(filepath.Ext(path), ".xml") {
			return nil
		}
		if len(tracked) > 0 {
			if t, ok := layoutTicker(d.Root, path); ok && !tracked[t] {
				return nil
			}
		}
		docs = append(docs, Document{Path: path})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

func (d Dir) Open(doc Document) (io.ReadCloser, error) {
	return os.Open(doc.Path)
}

// layoutTicker reports the ticker directory following sec-edgar-filings in
// path, if any.
func layoutTicker(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == LayoutDir {
			return strings.ToUpper(parts[i+1]), true
		}
	}
	// Root may itself be the layout directory.
	if filepath.Base(root) == LayoutDir && len(parts) > 1 {
		return strings.ToUpper(parts[0]), true
	}
	return "", false
}
