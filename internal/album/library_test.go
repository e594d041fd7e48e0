package album

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"capturectl/internal/camera"
)

func TestDirLibrary_AddVideo(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	lib := NewDirLibrary(filepath.Join(tmp, "album"), slog.New(slog.DiscardHandler))

	src := filepath.Join(tmp, "clip.mp4")
	if err := os.WriteFile(src, []byte("movie"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := lib.AddVideo(ctx, src); err != nil {
		t.Fatalf("AddVideo failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(lib.Dir(), "clip.mp4"))
	if err != nil || string(data) != "movie" {
		t.Fatalf("Expected copied video, got %q (%v)", data, err)
	}
}

func TestDirLibrary_Errors(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	lib := NewDirLibrary(filepath.Join(tmp, "album"), slog.New(slog.DiscardHandler))

	tests := []struct {
		name string
		path string
		want error
	}{
		{"not video", filepath.Join(tmp, "photo.jpg"), camera.ErrNotVideo},
		{"missing", filepath.Join(tmp, "missing.mov"), camera.ErrAssetMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := lib.AddVideo(ctx, tt.path); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDirLibrary_Inaccessible(t *testing.T) {
	tmp := t.TempDir()

	// アルバムの場所が通常ファイルになっている
	blocker := filepath.Join(tmp, "album")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	lib := NewDirLibrary(blocker, slog.New(slog.DiscardHandler))

	err := lib.AddImage(context.Background(), []byte{0xFF, 0xD8}, "a.jpg")
	if !errors.Is(err, camera.ErrAlbumInaccessible) {
		t.Errorf("Expected ErrAlbumInaccessible, got %v", err)
	}
}

func TestDirLibrary_AddImage(t *testing.T) {
	tmp := t.TempDir()
	lib := NewDirLibrary(tmp, slog.New(slog.DiscardHandler))

	if err := lib.AddImage(context.Background(), nil, "empty.jpg"); !errors.Is(err, camera.ErrAssetMissing) {
		t.Errorf("Expected ErrAssetMissing for empty data, got %v", err)
	}
	if err := lib.AddImage(context.Background(), []byte("jpeg"), "../escape.jpg"); err != nil {
		t.Fatalf("AddImage failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmp, "escape.jpg")); err != nil {
		t.Errorf("Expected image stored inside the album: %v", err)
	}
}
