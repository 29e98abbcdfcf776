// Package artifact writes the static JSON tree.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// File is one marshalled artifact, addressed relative to the tree root.
type File struct {
	Path string
	Body []byte
}

// Marshal renders v as indented JSON. Nothing is written when it fails.
func Marshal(rel string, v any) (File, error) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return File{}, fmt.Errorf("marshal %s: %w", rel, err)
	}
	return File{Path: filepath.ToSlash(rel), Body: append(body, '\n')}, nil
}

// Write stores f under root. The body goes to a temp file first and is
// renamed into place so readers never see a partial document.
func Write(root string, f File) error {
	dst := filepath.Join(root, filepath.FromSlash(f.Path))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(f.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// WriteAll writes files under root in path order.
func WriteAll(root string, files []File) error {
	sorted := append([]File(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	for _, f := range sorted {
		if err := Write(root, f); err != nil {
			return fmt.Errorf("write %s: %w", f.Path, err)
		}
	}
	return nil
}

// Publish replaces dir with a freshly written tree. The files go to a
// staging sibling which is then renamed over dir; the old tree is kept as
// dir.previous until the swap succeeds.
func Publish(dir string, files []File) error {
	staging := dir + ".staging"
	previous := dir + ".previous"
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("clear staging: %w", err)
	}
	if err := os.MkdirAll(staging, 0755); err != nil {
		return fmt.Errorf("create staging: %w", err)
	}
	if err := WriteAll(staging, files); err != nil {
		os.RemoveAll(staging)
		return err
	}

	if err := os.RemoveAll(previous); err != nil {
		return fmt.Errorf("clear previous: %w", err)
	}
	hadOld := true
	if err := os.Rename(dir, previous); err != nil {
		if !os.IsNotExist(err) {
			os.RemoveAll(staging)
			return fmt.Errorf("move current tree aside: %w", err)
		}
		hadOld = false
	}
	if err := os.Rename(staging, dir); err != nil {
		if hadOld {
			os.Rename(previous, dir)
		}
		return fmt.Errorf("swap in new tree: %w", err)
	}
	if hadOld {
		return os.RemoveAll(previous)
	}
	return nil
}

// Prune removes files under root/<glob> that are not in keep. It returns
// the removed paths relative to root.
func Prune(root, glob string, keep map[string]bool) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(root, glob))
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, m := range matches {
		rel, err := filepath.Rel(root, m)
		if err != nil {
			return removed, err
		}
		rel = filepath.ToSlash(rel)
		if keep[rel] {
			continue
		}
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed = append(removed, rel)
	}
	sort.Strings(removed)
	return removed, nil
}
