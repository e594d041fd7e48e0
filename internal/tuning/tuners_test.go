package tuning

import (
	"context"
	"errors"
	"testing"

	"capturectl/internal/camera"
)

type staticDevices []camera.Device

func (s staticDevices) Devices() []camera.Device { return s }

type staticAudio struct{ device camera.Device }

func (s staticAudio) AudioDevice() (camera.Device, bool) { return s.device, s.device != nil }

func videoDevice(id string, pos camera.Position, typ camera.DeviceType, builtIn bool, res ...camera.Resolution) *camera.VirtualDevice {
	info := camera.DeviceInfo{
		ID:       id,
		Media:    camera.MediaVideo,
		Position: pos,
		Type:     typ,
		BuiltIn:  builtIn,
	}
	for _, r := range res {
		info.Formats = append(info.Formats, camera.Format{Resolution: r, PixelFormat: "MJPG"})
	}
	return camera.NewVirtualDevice(info)
}

func TestSelectDevice_MaxResolution(t *testing.T) {
	hd := camera.Resolution{Width: 1920, Height: 1080}
	uhd := camera.Resolution{Width: 3840, Height: 2160}
	vga := camera.Resolution{Width: 640, Height: 480}

	small := videoDevice("small", camera.PositionBack, camera.DeviceTypeWideAngle, true, vga, hd)
	large := videoDevice("large", camera.PositionBack, camera.DeviceTypeTelephoto, true, vga, uhd)
	external := videoDevice("external", camera.PositionBack, camera.DeviceTypeExternal, false, uhd, camera.Resolution{Width: 7680, Height: 4320})
	front := videoDevice("front", camera.PositionFront, camera.DeviceTypeWideAngle, true, camera.Resolution{Width: 7680, Height: 4320})

	devices := []camera.Device{small, large, external, front}

	got, ok := SelectDevice(devices, camera.PositionBack, "")
	if !ok || got.Info().ID != "large" {
		t.Fatalf("Expected large, got %v", got)
	}

	// 種類の指定が優先される
	got, ok = SelectDevice(devices, camera.PositionBack, camera.DeviceTypeWideAngle)
	if !ok || got.Info().ID != "small" {
		t.Fatalf("Expected small for preferred wide angle, got %v", got)
	}

	// 指定の種類がなければ解像度で選ぶ
	got, ok = SelectDevice(devices, camera.PositionBack, camera.DeviceTypeUltraWide)
	if !ok || got.Info().ID != "large" {
		t.Fatalf("Expected fallback to large, got %v", got)
	}

	if _, ok := SelectDevice(devices, camera.PositionUnspecified, ""); ok {
		t.Error("Expected no device for unspecified position")
	}
}

func TestMaxResolution(t *testing.T) {
	info := camera.DeviceInfo{Formats: []camera.Format{
		{Resolution: camera.Resolution{Width: 1280, Height: 720}},
		{Resolution: camera.Resolution{Width: 1920, Height: 1080}},
		{Resolution: camera.Resolution{Width: 1080, Height: 1920}},
	}}

	got := MaxResolution(info)
	if got.Width != 1920 || got.Height != 1080 {
		t.Errorf("Expected 1920x1080 (first of equal area), got %dx%d", got.Width, got.Height)
	}
	if MaxResolution(camera.DeviceInfo{}).Pixels() != 0 {
		t.Error("Expected zero resolution for no formats")
	}
}

func TestCameraPositionTuner(t *testing.T) {
	q, session := newTestQueue(t)
	back := videoDevice("back", camera.PositionBack, camera.DeviceTypeWideAngle, true, camera.Resolution{Width: 1920, Height: 1080})
	front := videoDevice("front", camera.PositionFront, camera.DeviceTypeWideAngle, true, camera.Resolution{Width: 1280, Height: 720})
	_ = session.AddInput(back)

	source := staticDevices{back, front}
	ctx := context.Background()

	if err := q.Do(ctx, CameraPositionTuner{Position: camera.PositionFront, Devices: source}); err != nil {
		t.Fatalf("Switch to front failed: %v", err)
	}
	if video, _ := session.VideoDevice(); video.Info().ID != "front" {
		t.Errorf("Expected front camera, got %s", video.Info().ID)
	}

	// 見つからない場合は元の入力に戻る
	err := q.Do(ctx, CameraPositionTuner{Position: camera.PositionUnspecified, Devices: source})
	if !errors.Is(err, camera.ErrDeviceInvalid) {
		t.Fatalf("Expected ErrDeviceInvalid, got %v", err)
	}
	if video, ok := session.VideoDevice(); !ok || video.Info().ID != "front" {
		t.Error("Expected previous input to be restored")
	}
}

func TestMuteTuner(t *testing.T) {
	q, session := newTestQueue(t)
	ctx := context.Background()
	mic := camera.NewVirtualDevice(camera.DeviceInfo{ID: "mic", Media: camera.MediaAudio})

	if err := q.Do(ctx, MuteTuner{Muted: false, Audio: staticAudio{mic}}); err != nil {
		t.Fatalf("Unmute failed: %v", err)
	}
	if _, ok := session.AudioDevice(); !ok {
		t.Fatal("Expected audio input after unmute")
	}
	// 二度目の解除は何もしない
	if err := q.Do(ctx, MuteTuner{Muted: false, Audio: staticAudio{mic}}); err != nil {
		t.Fatalf("Second unmute failed: %v", err)
	}

	if err := q.Do(ctx, MuteTuner{Muted: true}); err != nil {
		t.Fatalf("Mute failed: %v", err)
	}
	if _, ok := session.AudioDevice(); ok {
		t.Fatal("Expected audio input to be detached")
	}

	err := q.Do(ctx, MuteTuner{Muted: false, Audio: staticAudio{}})
	if !errors.Is(err, camera.ErrUnableToSetInput) {
		t.Errorf("Expected ErrUnableToSetInput, got %v", err)
	}

	if session.Commits() != 4 {
		t.Errorf("Expected every mute operation to run in a transaction, got %d commits", session.Commits())
	}
}

func TestQualityTuner(t *testing.T) {
	q, session := newTestQueue(t)
	ctx := context.Background()

	if err := q.Do(ctx, QualityTuner{Preset: camera.PresetLow}); err != nil {
		t.Fatalf("QualityTuner failed: %v", err)
	}
	if session.Preset() != camera.PresetLow {
		t.Errorf("Expected preset low, got %s", session.Preset())
	}
	if err := q.Do(ctx, QualityTuner{Preset: "bogus"}); !errors.Is(err, camera.ErrNotSupported) {
		t.Errorf("Expected ErrNotSupported, got %v", err)
	}
}

func TestDeviceTuners(t *testing.T) {
	q, session := newTestQueue(t)
	device := attachVideo(t, session)
	ctx := context.Background()

	point := camera.Point{X: 0.25, Y: 0.75}
	if err := q.Do(ctx, AutoFocusTuner{Mode: camera.FocusAuto, Point: &point}); err != nil {
		t.Fatalf("AutoFocusTuner failed: %v", err)
	}
	if device.FocusMode() != camera.FocusAuto || device.FocusPoint() != point {
		t.Errorf("Unexpected focus state: %s %+v", device.FocusMode(), device.FocusPoint())
	}

	device.SetSupportedFocusModes(camera.FocusLocked)
	if err := q.Do(ctx, AutoFocusTuner{Mode: camera.FocusContinuous}); !errors.Is(err, camera.ErrNotSupported) {
		t.Errorf("Expected ErrNotSupported, got %v", err)
	}

	if err := q.Do(ctx, TorchTuner{Mode: camera.TorchOn, Level: 0.5}); err != nil {
		t.Fatalf("TorchTuner failed: %v", err)
	}
	if mode, level := device.Torch(); mode != camera.TorchOn || level != 0.5 {
		t.Errorf("Unexpected torch state: %s %v", mode, level)
	}

	if err := q.Do(ctx, ChangeMonitoringTuner{Enabled: true}); err != nil {
		t.Fatalf("ChangeMonitoringTuner failed: %v", err)
	}
	if !device.SubjectAreaChangeMonitoring() {
		t.Error("Expected subject area monitoring to be enabled")
	}
}

func TestTorchTuner_NoTorch(t *testing.T) {
	q, session := newTestQueue(t)
	_ = session.AddInput(videoDevice("plain", camera.PositionBack, camera.DeviceTypeWideAngle, true))

	err := q.Do(context.Background(), TorchTuner{Mode: camera.TorchOn, Level: 1})
	if !errors.Is(err, camera.ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
}

func TestConnectionTuners(t *testing.T) {
	q, session := newTestQueue(t)
	attachVideo(t, session)
	_ = session.SetPhotoOutput(camera.NewVirtualPhotoOutput())
	ctx := context.Background()

	conn, ok := session.Connection(camera.MediaVideo)
	if !ok {
		t.Fatal("Expected video connection")
	}

	if err := q.Do(ctx, OrientationTuner{Connection: conn, Orientation: camera.OrientationLandscapeRight}); err != nil {
		t.Fatalf("OrientationTuner failed: %v", err)
	}
	if err := q.Do(ctx, StabilizationTuner{Connection: conn, Mode: camera.StabilizationCinematic}); err != nil {
		t.Fatalf("StabilizationTuner failed: %v", err)
	}
	if conn.Orientation() != camera.OrientationLandscapeRight || conn.Stabilization() != camera.StabilizationCinematic {
		t.Errorf("Unexpected connection state: %s %s", conn.Orientation(), conn.Stabilization())
	}

	if err := q.Do(ctx, OrientationTuner{}); !errors.Is(err, camera.ErrNoConnection) {
		t.Errorf("Expected ErrNoConnection, got %v", err)
	}
}

func TestSessionSetupAndRunning(t *testing.T) {
	q, session := newTestQueue(t)
	devices, mic := camera.DefaultVirtualDevices()
	ctx := context.Background()

	if err := q.Do(ctx, RunningTuner{Running: true}); !errors.Is(err, camera.ErrNotConfigured) {
		t.Fatalf("Expected ErrNotConfigured, got %v", err)
	}

	setup := SessionSetupTuner{
		Video:     devices[0],
		Audio:     mic,
		Recording: camera.NewVirtualRecordingOutput(),
		Photo:     camera.NewVirtualPhotoOutput(),
		Preset:    camera.PresetHD1080,
	}
	if err := q.Do(ctx, setup); err != nil {
		t.Fatalf("SessionSetupTuner failed: %v", err)
	}
	if err := q.Do(ctx, RunningTuner{Running: true}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !session.IsRunning() || len(session.Connections()) != 2 {
		t.Errorf("Expected running session with 2 connections, got running=%v connections=%d",
			session.IsRunning(), len(session.Connections()))
	}

	if err := q.Do(ctx, TeardownTuner{}); err != nil {
		t.Fatalf("Teardown failed: %v", err)
	}
	if session.IsRunning() || len(session.Inputs()) != 0 {
		t.Error("Expected teardown to stop and clear the session")
	}
}
