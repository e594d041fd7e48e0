package camera

import (
	"context"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeRunner は実行されたコマンドを記録する
type fakeRunner struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if name == "v4l2-ctl" {
		f.calls = append(f.calls, args[len(args)-1])
		return nil, nil
	}
	f.calls = append(f.calls, name)
	return []byte{0xff, 0xd8, 0xff, 0xd9}, nil
}

func (f *fakeRunner) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func TestFFmpegPhotoOutput_BracketBiasControl(t *testing.T) {
	session := NewSession(slog.New(slog.DiscardHandler))
	if err := session.AddInput(NewVirtualDevice(DeviceInfo{ID: "/dev/video9", Media: MediaVideo})); err != nil {
		t.Fatalf("AddInput failed: %v", err)
	}

	runner := &fakeRunner{}
	out := NewFFmpegPhotoOutput(session, 640, 480, 3)
	out.run = runner.run

	events := &photoEvents{photos: make(chan Photo, 3), errs: make(chan error, 3)}
	settings := NewPhotoSettings()
	settings.ExposureBiases = []float64{-2, -1, 0}
	if err := out.CapturePhoto(settings, events); err != nil {
		t.Fatalf("CapturePhoto failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		select {
		case <-events.photos:
		case err := <-events.errs:
			t.Fatalf("Unexpected error: %v", err)
		case <-time.After(time.Second):
			t.Fatal("Timed out waiting for photo")
		}
	}

	// 0 EV も設定し、最後に 0 へ戻す
	want := []string{
		"auto_exposure_bias=-2000", "ffmpeg",
		"auto_exposure_bias=-1000", "ffmpeg",
		"auto_exposure_bias=0", "ffmpeg",
		"auto_exposure_bias=0",
	}
	deadline := time.Now().Add(time.Second)
	for len(runner.snapshot()) < len(want) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := runner.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected commands\n%s\ngot\n%s", strings.Join(want, "\n"), strings.Join(got, "\n"))
	}
}
