package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// VirtualDevice はメモリ上で動作するデバイス実装
//
// virtual バックエンドとテストで使用する。設定系メソッドはロック取得中のみ成功する。
type VirtualDevice struct {
	mu   sync.Mutex
	info DeviceInfo

	// 能力
	focusModes   map[FocusMode]bool
	pointOfFocus bool
	lockErr      error
	locked       bool
	lockCount    int

	// 現在の設定値
	focusMode  FocusMode
	focusPoint Point
	zoomFactor float64
	torchMode  TorchMode
	torchLevel float64
	monitoring bool
}

// NewVirtualDevice は新しいVirtualDeviceを作成する
func NewVirtualDevice(info DeviceInfo) *VirtualDevice {
	return &VirtualDevice{
		info: info,
		focusModes: map[FocusMode]bool{
			FocusLocked:     true,
			FocusAuto:       true,
			FocusContinuous: true,
		},
		pointOfFocus: true,
		focusMode:    FocusContinuous,
		zoomFactor:   1.0,
		torchMode:    TorchOff,
	}
}

// Info は静的なデバイス情報を返す
func (d *VirtualDevice) Info() DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// LockForConfiguration は設定用の排他ロックを取得する
func (d *VirtualDevice) LockForConfiguration() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lockErr != nil {
		return d.lockErr
	}
	if d.locked {
		return ErrDeviceBusy
	}
	d.locked = true
	d.lockCount++
	return nil
}

// UnlockForConfiguration は設定用の排他ロックを解放する
func (d *VirtualDevice) UnlockForConfiguration() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locked = false
}

// IsFocusModeSupported はフォーカスモードに対応しているかを返す
func (d *VirtualDevice) IsFocusModeSupported(mode FocusMode) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.focusModes[mode]
}

// SetFocusMode はフォーカスモードを設定する
func (d *VirtualDevice) SetFocusMode(mode FocusMode) error {
	return d.update(func() { d.focusMode = mode })
}

// IsFocusPointOfInterestSupported は注目点フォーカスに対応しているかを返す
func (d *VirtualDevice) IsFocusPointOfInterestSupported() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pointOfFocus
}

// SetFocusPointOfInterest はフォーカスの注目点を設定する
func (d *VirtualDevice) SetFocusPointOfInterest(point Point) error {
	return d.update(func() { d.focusPoint = point })
}

// SetZoomFactor はズーム倍率を設定する
func (d *VirtualDevice) SetZoomFactor(factor float64) error {
	return d.update(func() { d.zoomFactor = factor })
}

// SetTorchMode はトーチのモードを設定する
func (d *VirtualDevice) SetTorchMode(mode TorchMode) error {
	if !d.Info().HasTorch {
		return ErrUnsupported
	}
	return d.update(func() { d.torchMode = mode })
}

// SetTorchLevel はトーチの明るさを設定する
func (d *VirtualDevice) SetTorchLevel(level float64) error {
	if !d.Info().HasTorch {
		return ErrUnsupported
	}
	return d.update(func() { d.torchLevel = level })
}

// SetSubjectAreaChangeMonitoring は被写体領域の変化監視を切り替える
func (d *VirtualDevice) SetSubjectAreaChangeMonitoring(enabled bool) error {
	return d.update(func() { d.monitoring = enabled })
}

func (d *VirtualDevice) update(fn func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.locked {
		return ErrNotLocked
	}
	fn()
	return nil
}

// テスト・デモ用の制御

// SetSupportedFocusModes は対応するフォーカスモードを置き換える
func (d *VirtualDevice) SetSupportedFocusModes(modes ...FocusMode) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.focusModes = make(map[FocusMode]bool, len(modes))
	for _, m := range modes {
		d.focusModes[m] = true
	}
}

// SetFocusPointOfInterestSupported は注目点フォーカスへの対応を切り替える
func (d *VirtualDevice) SetFocusPointOfInterestSupported(supported bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pointOfFocus = supported
}

// SetLockError はロック取得時に返すエラーを設定する
func (d *VirtualDevice) SetLockError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lockErr = err
}

// IsLocked はロック中かどうかを返す
func (d *VirtualDevice) IsLocked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locked
}

// LockCount はロックを取得した回数を返す
func (d *VirtualDevice) LockCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lockCount
}

// FocusMode は現在のフォーカスモードを返す
func (d *VirtualDevice) FocusMode() FocusMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.focusMode
}

// FocusPoint は現在のフォーカス注目点を返す
func (d *VirtualDevice) FocusPoint() Point {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.focusPoint
}

// ZoomFactor は現在のズーム倍率を返す
func (d *VirtualDevice) ZoomFactor() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.zoomFactor
}

// Torch は現在のトーチ設定を返す
func (d *VirtualDevice) Torch() (TorchMode, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.torchMode, d.torchLevel
}

// SubjectAreaChangeMonitoring は変化監視が有効かを返す
func (d *VirtualDevice) SubjectAreaChangeMonitoring() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.monitoring
}

// VirtualRecordingOutput はメモリ上で動作する録画出力
//
// 終了要求を受けると別ゴルーチンでプレースホルダーのファイルを書き出し、
// delegate に完了を通知する。
type VirtualRecordingOutput struct {
	mu        sync.Mutex
	recording bool
	path      string
	delegate  RecordingDelegate

	// テスト制御用
	finishErr error
	delay     time.Duration
}

// NewVirtualRecordingOutput は新しいVirtualRecordingOutputを作成する
func NewVirtualRecordingOutput() *VirtualRecordingOutput {
	return &VirtualRecordingOutput{}
}

// StartRecording は録画を開始する
func (o *VirtualRecordingOutput) StartRecording(path string, delegate RecordingDelegate) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.recording {
		return ErrDeviceBusy
	}
	o.recording = true
	o.path = path
	o.delegate = delegate

	go delegate.DidStartRecording(path)
	return nil
}

// StopRecording は録画を終了する
func (o *VirtualRecordingOutput) StopRecording() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.recording {
		return ErrNotRunning
	}
	o.recording = false

	path, delegate, finishErr, delay := o.path, o.delegate, o.finishErr, o.delay
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}

		err := finishErr
		if err == nil {
			err = writePlaceholder(path)
		}
		delegate.DidFinishRecording(path, err)
	}()
	return nil
}

// IsRecording は録画中かどうかを返す
func (o *VirtualRecordingOutput) IsRecording() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.recording
}

// SetFinishError は録画完了時に通知するエラーを設定する
func (o *VirtualRecordingOutput) SetFinishError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finishErr = err
}

// SetDelay は終了要求から完了通知までの遅延を設定する
func (o *VirtualRecordingOutput) SetDelay(delay time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delay = delay
}

// writePlaceholder は録画結果の代わりとなるファイルを書き出す
func writePlaceholder(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: 録画先ディレクトリの作成に失敗: %v", ErrUnableToWrite, err)
	}
	if err := os.WriteFile(path, []byte("virtual recording\n"), 0644); err != nil {
		return fmt.Errorf("%w: 録画ファイルの書き込みに失敗: %v", ErrUnableToWrite, err)
	}
	return nil
}

// VirtualPhotoOutput はメモリ上で動作する写真出力
//
// 露出補正値ごとに小さなJPEGを生成し、別ゴルーチンで順に delegate へ通知する。
type VirtualPhotoOutput struct {
	mu         sync.Mutex
	maxBracket int
	requests   []PhotoSettings
	delivered  int

	// テスト制御用
	delay   time.Duration
	limit   int // 通知する写真の総数上限（0なら無制限）
	failAt  int // 何枚目の通知をエラーにするか（1始まり、0なら失敗しない）
	failErr error
}

// NewVirtualPhotoOutput は新しいVirtualPhotoOutputを作成する
func NewVirtualPhotoOutput() *VirtualPhotoOutput {
	return &VirtualPhotoOutput{maxBracket: 3}
}

// MaxBracketedPhotoCount は1回の要求で指定できる露出補正値の最大数
func (o *VirtualPhotoOutput) MaxBracketedPhotoCount() int {
	return o.maxBracket
}

// CapturePhoto は撮影を要求する
func (o *VirtualPhotoOutput) CapturePhoto(settings PhotoSettings, delegate PhotoDelegate) error {
	biases := settings.ExposureBiases
	if len(biases) > o.maxBracket {
		return fmt.Errorf("%w: 露出補正値は最大 %d 個です", ErrNotSupported, o.maxBracket)
	}
	if len(biases) == 0 {
		biases = []float64{0}
	}

	o.mu.Lock()
	o.requests = append(o.requests, settings)
	delay := o.delay
	o.mu.Unlock()

	go func() {
		for _, bias := range biases {
			if delay > 0 {
				time.Sleep(delay)
			}

			n, ok, err := o.nextDelivery()
			if !ok {
				continue
			}

			photo := Photo{
				SettingsID:   settings.ID,
				ExposureBias: bias,
				Timestamp:    time.Now(),
			}
			if err != nil {
				delegate.DidFinishProcessingPhoto(photo, err)
				continue
			}

			data, encErr := renderPhoto(n, bias)
			if encErr != nil {
				delegate.DidFinishProcessingPhoto(photo, encErr)
				continue
			}
			photo.Data = data
			delegate.DidFinishProcessingPhoto(photo, nil)
		}
	}()

	return nil
}

// nextDelivery は次の通知番号を払い出す
func (o *VirtualPhotoOutput) nextDelivery() (int, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.limit > 0 && o.delivered >= o.limit {
		return 0, false, nil
	}
	o.delivered++

	if o.failAt > 0 && o.delivered == o.failAt {
		return o.delivered, true, o.failErr
	}
	return o.delivered, true, nil
}

// Requests は受け付けた撮影設定の一覧を返す
func (o *VirtualPhotoOutput) Requests() []PhotoSettings {
	o.mu.Lock()
	defer o.mu.Unlock()

	requests := make([]PhotoSettings, len(o.requests))
	copy(requests, o.requests)
	return requests
}

// SetDelay は写真1枚ごとの通知遅延を設定する
func (o *VirtualPhotoOutput) SetDelay(delay time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delay = delay
}

// SetDeliveryLimit は通知する写真の総数上限を設定する
func (o *VirtualPhotoOutput) SetDeliveryLimit(limit int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.limit = limit
}

// FailDelivery は n 枚目の通知を err で失敗させる
func (o *VirtualPhotoOutput) FailDelivery(n int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failAt = n
	o.failErr = err
}

// renderPhoto は露出補正値に応じた明るさの小さなJPEGを生成する
func renderPhoto(seq int, bias float64) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))

	level := 128 + int(bias*32)
	if level < 0 {
		level = 0
	}
	if level > 255 {
		level = 255
	}
	fill := color.RGBA{R: uint8(level), G: uint8(level), B: uint8((level + seq*16) % 256), A: 255}
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("JPEG エンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}
