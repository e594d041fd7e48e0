package filecache

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0644); err != nil {
			t.Fatal(err)
		}
		// 作成日時に差をつける
		time.Sleep(10 * time.Millisecond)
	}
}

// touchDir はディレクトリの更新時刻を確実に変える
func touchDir(t *testing.T, dir string, offset time.Duration) {
	t.Helper()
	ts := time.Now().Add(offset)
	if err := os.Chtimes(dir, ts, ts); err != nil {
		t.Fatal(err)
	}
}

func countingDerive(count *int32) DeriveFunc[string] {
	return func(path string) (string, error) {
		atomic.AddInt32(count, 1)
		return strings.ToUpper(filepath.Base(path)), nil
	}
}

func TestCache_DerivesOncePerFile(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.jpg", "b.jpg", "c.jpg")

	var count int32
	cache := New(dir, countingDerive(&count), Options{Enabled: true})

	entries := cache.Fetch(0)
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	if count != 3 {
		t.Fatalf("Expected 3 derivations, got %d", count)
	}

	// ディレクトリが変わらなければ計算しない
	cache.Fetch(0)
	if count != 3 {
		t.Fatalf("Expected no additional derivations, got %d", count)
	}

	// 破棄後は全て1回ずつ計算し直す
	cache.Invalidate()
	if cache.Len() != 0 {
		t.Fatalf("Expected empty snapshot after invalidate, got %d", cache.Len())
	}
	cache.Fetch(0)
	if count != 6 {
		t.Fatalf("Expected 6 derivations after invalidate, got %d", count)
	}
}

func TestCache_IncrementalUpdate(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.jpg", "b.jpg")

	var count int32
	cache := New(dir, countingDerive(&count), Options{Enabled: true})
	cache.Fetch(0)

	writeFiles(t, dir, "c.jpg")
	touchDir(t, dir, time.Hour)

	entries := cache.Fetch(0)
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	if count != 3 {
		t.Fatalf("Expected only the new file to be derived, got %d derivations", count)
	}

	// 消えたファイルは取り除かれる
	if err := os.Remove(filepath.Join(dir, "a.jpg")); err != nil {
		t.Fatal(err)
	}
	touchDir(t, dir, 2*time.Hour)

	entries = cache.Fetch(0)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries after removal, got %d", len(entries))
	}
	if count != 3 {
		t.Errorf("Pruning must not re-derive survivors, got %d derivations", count)
	}
}

func TestCache_Renew(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.jpg")

	var count int32
	cache := New(dir, countingDerive(&count), Options{Enabled: true})
	cache.Renew()
	if cache.Len() != 1 || count != 1 {
		t.Fatalf("Expected 1 entry and 1 derivation, got %d and %d", cache.Len(), count)
	}

	// 既存のエントリは残したまま差分だけ計算する
	writeFiles(t, dir, "b.jpg")
	cache.Renew()
	if cache.Len() != 2 || count != 2 {
		t.Fatalf("Expected 2 entries and 2 derivations, got %d and %d", cache.Len(), count)
	}

	cache.Renew()
	if count != 2 {
		t.Errorf("Expected no derivations for an unchanged directory, got %d", count)
	}
}

func TestCache_Disabled(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.jpg", "b.jpg")

	var count int32
	cache := New(dir, countingDerive(&count), Options{Enabled: false})

	cache.Fetch(0)
	cache.Fetch(0)
	if count != 4 {
		t.Fatalf("Expected every fetch to derive all files, got %d", count)
	}
}

func TestCache_SortAndLimit(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "old.jpg", "mid.jpg", "new.jpg")

	var count int32
	cache := New(dir, countingDerive(&count), Options{Enabled: true})

	entries := cache.Fetch(2)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if filepath.Base(entries[0].Path) != "new.jpg" || filepath.Base(entries[1].Path) != "mid.jpg" {
		t.Errorf("Expected newest first, got %s, %s", entries[0].Path, entries[1].Path)
	}
	if entries[0].Value != "NEW.JPG" {
		t.Errorf("Unexpected derived value %q", entries[0].Value)
	}
}

func TestCache_Filter(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.jpg", "b.txt")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}

	var count int32
	cache := New(dir, countingDerive(&count), Options{
		Enabled: true,
		Filter:  func(name string) bool { return strings.HasSuffix(name, ".jpg") },
	})

	if entries := cache.Fetch(0); len(entries) != 1 {
		t.Fatalf("Expected 1 filtered entry, got %d", len(entries))
	}
}

func TestCache_MissingDirectory(t *testing.T) {
	var count int32
	cache := New(filepath.Join(t.TempDir(), "missing"), countingDerive(&count), Options{Enabled: true})

	if entries := cache.Fetch(0); len(entries) != 0 {
		t.Errorf("Expected empty result, got %d", len(entries))
	}

	disabled := New(filepath.Join(t.TempDir(), "missing"), countingDerive(&count), Options{})
	if entries := disabled.Fetch(0); len(entries) != 0 {
		t.Errorf("Expected empty result, got %d", len(entries))
	}
}

func TestCache_EmptyDirectory(t *testing.T) {
	var count int32
	cache := New(t.TempDir(), countingDerive(&count), Options{Enabled: true})

	if entries := cache.Fetch(0); len(entries) != 0 {
		t.Errorf("Expected empty result, got %d", len(entries))
	}
}

func TestCache_DeriveErrorSkipped(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "good.jpg", "bad.jpg")

	cache := New(dir, func(path string) (int, error) {
		if strings.HasPrefix(filepath.Base(path), "bad") {
			return 0, errors.New("corrupt")
		}
		return 1, nil
	}, Options{Enabled: true})

	entries := cache.Fetch(0)
	if len(entries) != 1 || filepath.Base(entries[0].Path) != "good.jpg" {
		t.Fatalf("Expected only good.jpg, got %+v", entries)
	}
}
