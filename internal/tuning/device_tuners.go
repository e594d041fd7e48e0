package tuning

import (
	"fmt"

	"capturectl/internal/camera"
)

// AutoFocusTuner はフォーカスモードと注目点を設定する
//
// Point は注目点フォーカスに対応するデバイスでのみ適用する。
type AutoFocusTuner struct {
	deviceScope
	Mode  camera.FocusMode
	Point *camera.Point
}

func (t AutoFocusTuner) Name() string { return "auto_focus" }

func (t AutoFocusTuner) Apply(target *Target) error {
	d := target.Device
	if !d.IsFocusModeSupported(t.Mode) {
		return fmt.Errorf("%w: フォーカスモード %q", camera.ErrNotSupported, t.Mode)
	}
	if err := d.SetFocusMode(t.Mode); err != nil {
		return err
	}
	if t.Point != nil && d.IsFocusPointOfInterestSupported() {
		return d.SetFocusPointOfInterest(*t.Point)
	}
	return nil
}

// ZoomTuner はズーム倍率をそのまま設定する
type ZoomTuner struct {
	deviceScope
	Factor float64
}

func (t ZoomTuner) Name() string { return "zoom" }

func (t ZoomTuner) Apply(target *Target) error {
	return target.Device.SetZoomFactor(t.Factor)
}

// TorchTuner はトーチのモードと明るさを設定する
type TorchTuner struct {
	deviceScope
	Mode  camera.TorchMode
	Level float64
}

func (t TorchTuner) Name() string { return "torch" }

func (t TorchTuner) Apply(target *Target) error {
	d := target.Device
	if !d.Info().HasTorch {
		return fmt.Errorf("%w: トーチがありません", camera.ErrUnsupported)
	}
	if err := d.SetTorchMode(t.Mode); err != nil {
		return err
	}
	return d.SetTorchLevel(t.Level)
}

// ChangeMonitoringTuner は被写体領域の変化監視を切り替える
type ChangeMonitoringTuner struct {
	deviceScope
	Enabled bool
}

func (t ChangeMonitoringTuner) Name() string { return "change_monitoring" }

func (t ChangeMonitoringTuner) Apply(target *Target) error {
	return target.Device.SetSubjectAreaChangeMonitoring(t.Enabled)
}
