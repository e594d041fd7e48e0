package tuning

import (
	"capturectl/internal/camera"
)

// OrientationTuner は接続の映像の向きを設定する
type OrientationTuner struct {
	directScope
	Connection  *camera.Connection
	Orientation camera.Orientation
}

func (t OrientationTuner) Name() string { return "orientation" }

func (t OrientationTuner) Apply(_ *Target) error {
	if t.Connection == nil {
		return camera.ErrNoConnection
	}
	t.Connection.SetOrientation(t.Orientation)
	return nil
}

// StabilizationTuner は接続の手ぶれ補正モードを設定する
type StabilizationTuner struct {
	directScope
	Connection *camera.Connection
	Mode       camera.StabilizationMode
}

func (t StabilizationTuner) Name() string { return "stabilization" }

func (t StabilizationTuner) Apply(_ *Target) error {
	if t.Connection == nil {
		return camera.ErrNoConnection
	}
	t.Connection.SetStabilization(t.Mode)
	return nil
}
