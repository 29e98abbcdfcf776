package artifact

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func mustMarshal(t *testing.T, rel string, v any) File {
	t.Helper()
	f, err := Marshal(rel, v)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestMarshal(t *testing.T) {
	f := mustMarshal(t, "a/b.json", map[string]int{"count": 1})
	if f.Path != "a/b.json" {
		t.Errorf("path = %q", f.Path)
	}
	if string(f.Body) != "{\n  \"count\": 1\n}\n" {
		t.Errorf("body = %q", f.Body)
	}
	if _, err := Marshal("bad.json", func() {}); err == nil {
		t.Error("expected marshal error for func value")
	}
}

func TestWriteAll(t *testing.T) {
	root := t.TempDir()
	files := []File{
		mustMarshal(t, "summary.json", []int{}),
		mustMarshal(t, "AAPL/quarterly/2025-Q1.json", []int{1}),
	}
	if err := WriteAll(root, files); err != nil {
		t.Fatal(err)
	}
	body, err := os.ReadFile(filepath.Join(root, "AAPL", "quarterly", "2025-Q1.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "[\n  1\n]\n" {
		t.Errorf("body = %q", body)
	}
	tmps, _ := filepath.Glob(filepath.Join(root, "AAPL", "quarterly", ".tmp-*"))
	if len(tmps) != 0 {
		t.Errorf("temp files left: %v", tmps)
	}
}

func TestPublishSwapsTree(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "json")
	if err := Publish(dir, []File{mustMarshal(t, "OLD/latest.json", 1)}); err != nil {
		t.Fatal(err)
	}
	if err := Publish(dir, []File{mustMarshal(t, "NEW/latest.json", 2)}); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "OLD")); !os.IsNotExist(err) {
		t.Error("previous tree survived publish")
	}
	if _, err := os.Stat(filepath.Join(dir, "NEW", "latest.json")); err != nil {
		t.Errorf("new file missing: %v", err)
	}
	for _, s := range []string{dir + ".staging", dir + ".previous"} {
		if _, err := os.Stat(s); !os.IsNotExist(err) {
			t.Errorf("%s left behind", s)
		}
	}
}

func TestPrune(t *testing.T) {
	root := t.TempDir()
	if err := WriteAll(root, []File{
		mustMarshal(t, "AAPL/quarterly/2025-Q1.json", 1),
		mustMarshal(t, "AAPL/quarterly/2019-Q3.json", 1),
		mustMarshal(t, "MSFT/quarterly/2018-Q2.json", 1),
		mustMarshal(t, "AAPL/transactions.json", 1),
	}); err != nil {
		t.Fatal(err)
	}

	keep := map[string]bool{"AAPL/quarterly/2025-Q1.json": true}
	removed, err := Prune(root, "*/quarterly/*.json", keep)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"AAPL/quarterly/2019-Q3.json", "MSFT/quarterly/2018-Q2.json"}
	if !reflect.DeepEqual(removed, want) {
		t.Errorf("removed = %v, want %v", removed, want)
	}
	for _, p := range []string{"AAPL/quarterly/2025-Q1.json", "AAPL/transactions.json"} {
		if _, err := os.Stat(filepath.Join(root, p)); err != nil {
			t.Errorf("%s: %v", p, err)
		}
	}
}
