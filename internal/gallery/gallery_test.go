package gallery

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestMakeThumbnail(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{"landscape", 640, 480, 160, 120},
		{"portrait", 300, 600, 80, 160},
		{"small", 100, 50, 100, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thumb, w, h, err := MakeThumbnail(encodeJPEG(t, tt.w, tt.h), ThumbnailSize)
			if err != nil {
				t.Fatalf("MakeThumbnail failed: %v", err)
			}
			if w != tt.w || h != tt.h {
				t.Errorf("Expected source size %dx%d, got %dx%d", tt.w, tt.h, w, h)
			}

			img, err := jpeg.Decode(bytes.NewReader(thumb))
			if err != nil {
				t.Fatalf("Thumbnail is not JPEG: %v", err)
			}
			if img.Bounds().Dx() != tt.wantW || img.Bounds().Dy() != tt.wantH {
				t.Errorf("Expected thumbnail %dx%d, got %dx%d", tt.wantW, tt.wantH, img.Bounds().Dx(), img.Bounds().Dy())
			}
		})
	}

	if _, _, _, err := MakeThumbnail([]byte("not an image"), ThumbnailSize); err == nil {
		t.Error("Expected error for invalid image")
	}
}

func TestGallery_PhotosAndVideos(t *testing.T) {
	tmp := t.TempDir()
	photoDir := filepath.Join(tmp, "photos")
	videoDir := filepath.Join(tmp, "videos")
	for _, dir := range []string{photoDir, videoDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}

	if err := os.WriteFile(filepath.Join(photoDir, "first.jpg"), encodeJPEG(t, 320, 240), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(photoDir, "second.jpg"), encodeJPEG(t, 320, 240), 0644); err != nil {
		t.Fatal(err)
	}
	// 壊れた画像と対象外のファイルは一覧に出ない
	_ = os.WriteFile(filepath.Join(photoDir, "broken.jpg"), []byte("xx"), 0644)
	_ = os.WriteFile(filepath.Join(photoDir, "notes.txt"), []byte("xx"), 0644)
	_ = os.WriteFile(filepath.Join(videoDir, "clip.mp4"), []byte("movie"), 0644)

	g := New(photoDir, videoDir, Options{CacheEnabled: true})

	photos := g.Photos(0)
	if len(photos) != 2 {
		t.Fatalf("Expected 2 photos, got %d", len(photos))
	}
	if photos[0].Name != "second.jpg" {
		t.Errorf("Expected newest photo first, got %s", photos[0].Name)
	}
	if photos[0].Kind != KindPhoto || photos[0].Width != 320 || len(photos[0].Thumbnail) == 0 {
		t.Errorf("Unexpected photo item: %+v", photos[0])
	}

	videos := g.Videos(0)
	if len(videos) != 1 || videos[0].Kind != KindVideo {
		t.Fatalf("Expected 1 video, got %+v", videos)
	}

	if _, ok := g.Thumbnail(KindPhoto, "first.jpg"); !ok {
		t.Error("Expected thumbnail for first.jpg")
	}
	if _, ok := g.Thumbnail(KindPhoto, "missing.jpg"); ok {
		t.Error("Expected no thumbnail for missing.jpg")
	}
	if _, ok := g.Thumbnail(KindVideo, "clip.mp4"); ok {
		t.Error("Expected no thumbnail when video thumbnails are disabled")
	}
}
