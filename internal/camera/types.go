package camera

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MediaType はデバイスが扱うメディアの種類
type MediaType string

const (
	MediaVideo MediaType = "video" // 映像
	MediaAudio MediaType = "audio" // 音声
)

// Position はカメラの向き
type Position string

const (
	PositionFront       Position = "front"
	PositionBack        Position = "back"
	PositionUnspecified Position = "unspecified"
)

// DeviceType はデバイスの種類
type DeviceType string

const (
	DeviceTypeWideAngle  DeviceType = "wide_angle"
	DeviceTypeUltraWide  DeviceType = "ultra_wide"
	DeviceTypeTelephoto  DeviceType = "telephoto"
	DeviceTypeExternal   DeviceType = "external"
	DeviceTypeMicrophone DeviceType = "microphone"
)

// Resolution はカメラの解像度を表す
type Resolution struct {
	Width  int `json:"width"`  // 幅
	Height int `json:"height"` // 高さ
}

// Pixels は総画素数を返す
func (r Resolution) Pixels() int {
	return r.Width * r.Height
}

// Format はデバイスがサポートするキャプチャフォーマット
type Format struct {
	Resolution
	PixelFormat string `json:"pixel_format"`
}

// DeviceInfo はデバイスの静的な情報を表す
type DeviceInfo struct {
	ID       string     `json:"id"`     // 一意識別子（V4L2ではデバイスパス）
	Name     string     `json:"name"`   // 表示名
	Driver   string     `json:"driver"` // ドライバー名
	Media    MediaType  `json:"media"`
	Position Position   `json:"position"`
	Type     DeviceType `json:"type"`
	BuiltIn  bool       `json:"built_in"`
	Formats  []Format   `json:"formats"`
	HasTorch bool       `json:"has_torch"`
}

// FocusMode はフォーカスモード
type FocusMode string

const (
	FocusLocked     FocusMode = "locked"
	FocusAuto       FocusMode = "auto"
	FocusContinuous FocusMode = "continuous"
)

// Point は正規化座標 (0.0-1.0)
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TorchMode はトーチ（ライト）のモード
type TorchMode string

const (
	TorchOff  TorchMode = "off"
	TorchOn   TorchMode = "on"
	TorchAuto TorchMode = "auto"
)

// Orientation は映像の向き
type Orientation string

const (
	OrientationPortrait           Orientation = "portrait"
	OrientationPortraitUpsideDown Orientation = "portrait_upside_down"
	OrientationLandscapeLeft      Orientation = "landscape_left"
	OrientationLandscapeRight     Orientation = "landscape_right"
)

// StabilizationMode は手ぶれ補正モード
type StabilizationMode string

const (
	StabilizationOff       StabilizationMode = "off"
	StabilizationStandard  StabilizationMode = "standard"
	StabilizationCinematic StabilizationMode = "cinematic"
	StabilizationAuto      StabilizationMode = "auto"
)

// Preset はセッションの解像度・品質プリセット
type Preset string

const (
	PresetLow     Preset = "low"
	PresetMedium  Preset = "medium"
	PresetHigh    Preset = "high"
	PresetPhoto   Preset = "photo"
	PresetHD720   Preset = "hd1280x720"
	PresetHD1080  Preset = "hd1920x1080"
	PresetUHD2160 Preset = "uhd3840x2160"
)

// Resolution はプリセットに対応する解像度を返す
func (p Preset) Resolution() (Resolution, bool) {
	switch p {
	case PresetLow:
		return Resolution{Width: 640, Height: 480}, true
	case PresetMedium, PresetHD720:
		return Resolution{Width: 1280, Height: 720}, true
	case PresetHigh, PresetHD1080, PresetPhoto:
		return Resolution{Width: 1920, Height: 1080}, true
	case PresetUHD2160:
		return Resolution{Width: 3840, Height: 2160}, true
	default:
		return Resolution{}, false
	}
}

// Valid は既知のプリセットかどうかを返す
func (p Preset) Valid() bool {
	_, ok := p.Resolution()
	return ok
}

// Device はキャプチャデバイスの制御機能を提供する
//
// 設定系メソッドは LockForConfiguration で排他ロックを取得した状態で呼び出すこと。
type Device interface {
	// Info は静的なデバイス情報を返す
	Info() DeviceInfo

	// LockForConfiguration は設定用の排他ロックを取得する
	LockForConfiguration() error

	// UnlockForConfiguration は設定用の排他ロックを解放する
	UnlockForConfiguration()

	IsFocusModeSupported(mode FocusMode) bool
	SetFocusMode(mode FocusMode) error
	IsFocusPointOfInterestSupported() bool
	SetFocusPointOfInterest(point Point) error
	SetZoomFactor(factor float64) error
	SetTorchMode(mode TorchMode) error
	SetTorchLevel(level float64) error
	SetSubjectAreaChangeMonitoring(enabled bool) error
}

// RecordingDelegate は録画出力からのコールバックを受け取る
type RecordingDelegate interface {
	// DidStartRecording は録画が開始されたときに呼ばれる
	DidStartRecording(path string)

	// DidFinishRecording は録画が終了したときに一度だけ呼ばれる
	DidFinishRecording(path string, err error)
}

// RecordingOutput は連続録画の出力
type RecordingOutput interface {
	// StartRecording は path への録画を開始する
	StartRecording(path string, delegate RecordingDelegate) error

	// StopRecording は録画の終了を要求する。完了は delegate に通知される
	StopRecording() error

	// IsRecording は録画中かどうかを返す
	IsRecording() bool
}

// FlashMode はフラッシュモード
type FlashMode string

const (
	FlashOff  FlashMode = "off"
	FlashOn   FlashMode = "on"
	FlashAuto FlashMode = "auto"
)

// PhotoSettings は1回の撮影要求の設定
type PhotoSettings struct {
	ID             uuid.UUID // 撮影要求の識別子（コールバックの振り分けに使用）
	Format         string    // 出力フォーマット
	Flash          FlashMode
	ExposureBiases []float64 // ブラケット撮影時の露出補正値（空なら通常撮影）
}

// NewPhotoSettings は新しい識別子を持つ撮影設定を作成する
func NewPhotoSettings() PhotoSettings {
	return PhotoSettings{
		ID:     uuid.New(),
		Format: "jpeg",
		Flash:  FlashOff,
	}
}

// Photo はハードウェアから届いた1枚の写真
type Photo struct {
	SettingsID   uuid.UUID `json:"settings_id"`
	ExposureBias float64   `json:"exposure_bias"`
	Data         []byte    `json:"-"`
	Timestamp    time.Time `json:"timestamp"`
}

// PhotoDelegate は写真出力からのコールバックを受け取る
type PhotoDelegate interface {
	// DidFinishProcessingPhoto は写真1枚の処理が終わるたびに呼ばれる
	DidFinishProcessingPhoto(photo Photo, err error)
}

// PhotoOutput は静止画の出力
type PhotoOutput interface {
	// CapturePhoto は撮影を要求する。結果は写真ごとに delegate へ通知される
	CapturePhoto(settings PhotoSettings, delegate PhotoDelegate) error

	// MaxBracketedPhotoCount は1回の要求で指定できる露出補正値の最大数
	MaxBracketedPhotoCount() int
}

// Discovery はデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能な映像デバイスをスキャンする
	ScanDevices(ctx context.Context) ([]Device, error)

	// DefaultAudioDevice は既定の音声入力デバイスを返す
	DefaultAudioDevice(ctx context.Context) (Device, error)
}
