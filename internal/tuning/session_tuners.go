package tuning

import (
	"fmt"

	"capturectl/internal/camera"
)

// AudioSource は音声入力デバイスの供給元
type AudioSource interface {
	AudioDevice() (camera.Device, bool)
}

// DeviceSource は映像デバイス一覧の供給元
type DeviceSource interface {
	Devices() []camera.Device
}

// MuteTuner は音声入力の着脱で消音を切り替える
type MuteTuner struct {
	sessionScope
	Muted bool
	Audio AudioSource
}

func (t MuteTuner) Name() string { return "mute" }

func (t MuteTuner) Apply(target *Target) error {
	s := target.Session
	current, attached := s.AudioDevice()

	if t.Muted {
		if attached {
			s.RemoveInput(current)
		}
		return nil
	}

	if attached {
		return nil
	}
	if t.Audio == nil {
		return fmt.Errorf("%w: 音声入力の供給元がありません", camera.ErrUnableToSetInput)
	}
	device, ok := t.Audio.AudioDevice()
	if !ok {
		return fmt.Errorf("%w: 音声入力デバイスがありません", camera.ErrUnableToSetInput)
	}
	return s.AddInput(device)
}

// QualityTuner はセッションのプリセットを変更する
type QualityTuner struct {
	sessionScope
	Preset camera.Preset
}

func (t QualityTuner) Name() string { return "quality" }

func (t QualityTuner) Apply(target *Target) error {
	return target.Session.SetPreset(t.Preset)
}

// CameraPositionTuner は映像入力を指定した向きのカメラに切り替える
//
// Preferred が空でなければ、その種類のデバイスを優先する。
// 切り替えに失敗した場合は元の入力に戻す。
type CameraPositionTuner struct {
	sessionScope
	Position  camera.Position
	Preferred camera.DeviceType
	Devices   DeviceSource
}

func (t CameraPositionTuner) Name() string { return "camera_position" }

func (t CameraPositionTuner) Apply(target *Target) error {
	s := target.Session

	var candidates []camera.Device
	if t.Devices != nil {
		candidates = t.Devices.Devices()
	}

	previous, hadPrevious := s.VideoDevice()
	if hadPrevious {
		s.RemoveInput(previous)
	}

	restore := func() {
		if hadPrevious {
			_ = s.AddInput(previous)
		}
	}

	next, ok := SelectDevice(candidates, t.Position, t.Preferred)
	if !ok {
		restore()
		return fmt.Errorf("%w: %s 向きのカメラが見つかりません", camera.ErrDeviceInvalid, t.Position)
	}
	if err := s.AddInput(next); err != nil {
		restore()
		return err
	}
	return nil
}

// SelectDevice は向きと種類の指定からデバイスを1つ選ぶ
//
// preferred に一致するデバイスがあればそれを返す。なければ指定した向きの
// 内蔵カメラのうち最大解像度が最も大きいものを返す（同値は先勝ち）。
func SelectDevice(devices []camera.Device, position camera.Position, preferred camera.DeviceType) (camera.Device, bool) {
	if preferred != "" {
		for _, d := range devices {
			info := d.Info()
			if info.Media == camera.MediaVideo && info.Position == position && info.Type == preferred {
				return d, true
			}
		}
	}

	var best camera.Device
	bestPixels := -1
	for _, d := range devices {
		info := d.Info()
		if info.Media != camera.MediaVideo || info.Position != position || !info.BuiltIn {
			continue
		}
		if px := MaxResolution(info).Pixels(); px > bestPixels {
			best = d
			bestPixels = px
		}
	}
	return best, best != nil
}

// MaxResolution はデバイスが対応するフォーマットの中で最大の解像度を返す
func MaxResolution(info camera.DeviceInfo) camera.Resolution {
	var largest camera.Resolution
	for _, f := range info.Formats {
		if f.Resolution.Pixels() > largest.Pixels() {
			largest = f.Resolution
		}
	}
	return largest
}

// SessionSetupTuner は入力と出力を接続してセッションを組み立てる
type SessionSetupTuner struct {
	sessionScope
	Video     camera.Device
	Audio     camera.Device
	Recording camera.RecordingOutput
	Photo     camera.PhotoOutput
	Preset    camera.Preset
}

func (t SessionSetupTuner) Name() string { return "session_setup" }

func (t SessionSetupTuner) Apply(target *Target) error {
	s := target.Session

	if t.Preset != "" {
		if err := s.SetPreset(t.Preset); err != nil {
			return err
		}
	}
	if t.Video == nil {
		return fmt.Errorf("%w: 映像デバイスがありません", camera.ErrDeviceInvalid)
	}
	if current, ok := s.VideoDevice(); !ok || current.Info().ID != t.Video.Info().ID {
		if ok {
			s.RemoveInput(current)
		}
		if err := s.AddInput(t.Video); err != nil {
			return err
		}
	}
	if t.Audio != nil {
		if _, ok := s.AudioDevice(); !ok {
			if err := s.AddInput(t.Audio); err != nil {
				return err
			}
		}
	}
	if t.Recording != nil {
		if err := s.SetRecordingOutput(t.Recording); err != nil {
			return err
		}
	}
	if t.Photo != nil {
		if err := s.SetPhotoOutput(t.Photo); err != nil {
			return err
		}
	}
	return nil
}

// RunningTuner はセッションの開始と停止を切り替える
type RunningTuner struct {
	directScope
	Running bool
}

func (t RunningTuner) Name() string {
	if t.Running {
		return "start_running"
	}
	return "stop_running"
}

func (t RunningTuner) Apply(target *Target) error {
	if t.Running {
		return target.Session.Start()
	}
	target.Session.Stop()
	return nil
}

// TeardownTuner はセッションを停止して全ての入力を取り外す
type TeardownTuner struct {
	directScope
}

func (TeardownTuner) Name() string { return "teardown" }

func (TeardownTuner) Apply(target *Target) error {
	target.Session.Teardown()
	return nil
}
