package camera

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// V4L2Device は v4l2-ctl を使って制御する実デバイス
type V4L2Device struct {
	info DeviceInfo

	mu     sync.Mutex
	locked bool
}

// NewV4L2Device は新しいV4L2Deviceを作成する
func NewV4L2Device(info DeviceInfo) *V4L2Device {
	return &V4L2Device{info: info}
}

// Info はデバイス情報を返す
func (d *V4L2Device) Info() DeviceInfo {
	return d.info
}

// LockForConfiguration は設定用の排他ロックを取得する
func (d *V4L2Device) LockForConfiguration() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.locked {
		return ErrDeviceBusy
	}
	if _, err := os.Stat(d.info.ID); err != nil {
		return fmt.Errorf("%w: %s", ErrDeviceInvalid, d.info.ID)
	}
	d.locked = true
	return nil
}

// UnlockForConfiguration は設定用の排他ロックを解放する
func (d *V4L2Device) UnlockForConfiguration() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locked = false
}

func (d *V4L2Device) requireLock() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.locked {
		return ErrNotLocked
	}
	return nil
}

// IsFocusModeSupported はフォーカスモードに対応しているかを返す
func (d *V4L2Device) IsFocusModeSupported(mode FocusMode) bool {
	switch mode {
	case FocusLocked, FocusContinuous:
		return true
	default:
		return false
	}
}

// SetFocusMode はフォーカスモードを設定する
func (d *V4L2Device) SetFocusMode(mode FocusMode) error {
	if err := d.requireLock(); err != nil {
		return err
	}
	if !d.IsFocusModeSupported(mode) {
		return fmt.Errorf("%w: フォーカスモード %q", ErrUnsupported, mode)
	}

	value := 0
	if mode == FocusContinuous {
		value = 1
	}
	return d.SetControls(context.Background(), map[string]interface{}{
		"focus_automatic_continuous": value,
	})
}

// IsFocusPointOfInterestSupported は注目点の指定に対応しているかを返す
//
// UVC には注目点を指定するコントロールがないため常に false。
func (d *V4L2Device) IsFocusPointOfInterestSupported() bool {
	return false
}

// SetFocusPointOfInterest はフォーカスの注目点を設定する
func (d *V4L2Device) SetFocusPointOfInterest(_ Point) error {
	if err := d.requireLock(); err != nil {
		return err
	}
	return fmt.Errorf("%w: フォーカス注目点", ErrUnsupported)
}

// SetZoomFactor はズーム倍率を設定する
//
// zoom_absolute の値は倍率 x100 として扱う。
func (d *V4L2Device) SetZoomFactor(factor float64) error {
	if err := d.requireLock(); err != nil {
		return err
	}
	if factor < 1 {
		factor = 1
	}
	return d.SetControls(context.Background(), map[string]interface{}{
		"zoom_absolute": int(math.Round(factor * 100)),
	})
}

// SetTorchMode はトーチのモードを設定する
func (d *V4L2Device) SetTorchMode(mode TorchMode) error {
	if err := d.requireLock(); err != nil {
		return err
	}
	if !d.info.HasTorch {
		return fmt.Errorf("%w: トーチ", ErrUnsupported)
	}

	value := 0
	if mode == TorchOn {
		value = 1
	}
	return d.SetControls(context.Background(), map[string]interface{}{
		"led1_mode": value,
	})
}

// SetTorchLevel はトーチの明るさを設定する
func (d *V4L2Device) SetTorchLevel(level float64) error {
	if err := d.requireLock(); err != nil {
		return err
	}
	if !d.info.HasTorch {
		return fmt.Errorf("%w: トーチ", ErrUnsupported)
	}
	return d.SetControls(context.Background(), map[string]interface{}{
		"led1_frequency": int(math.Round(level * 255)),
	})
}

// SetSubjectAreaChangeMonitoring は被写体領域の変化監視を切り替える
//
// V4L2 には対応する機能がないため、ロックの確認のみ行う。
func (d *V4L2Device) SetSubjectAreaChangeMonitoring(_ bool) error {
	return d.requireLock()
}

// SetControls はカメラのコントロール（明度、コントラストなど）を設定する
func (d *V4L2Device) SetControls(ctx context.Context, controls map[string]interface{}) error {
	for control, value := range controls {
		var strValue string
		switch v := value.(type) {
		case int:
			strValue = strconv.Itoa(v)
		case float64:
			strValue = strconv.FormatFloat(v, 'f', -1, 64)
		case string:
			strValue = v
		default:
			return fmt.Errorf("サポートされていない値の型: %T", value)
		}

		cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", d.info.ID, "--set-ctrl", fmt.Sprintf("%s=%s", control, strValue))
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("コントロール %s の設定に失敗: %w", control, err)
		}
	}

	return nil
}

// ALSADevice は ALSA の音声入力デバイス
type ALSADevice struct {
	info DeviceInfo
}

// NewALSADevice は新しいALSADeviceを作成する
func NewALSADevice(name string) *ALSADevice {
	return &ALSADevice{info: DeviceInfo{
		ID:      "alsa:" + name,
		Name:    name,
		Driver:  "alsa",
		Media:   MediaAudio,
		Type:    DeviceTypeMicrophone,
		BuiltIn: true,
	}}
}

// Info はデバイス情報を返す
func (d *ALSADevice) Info() DeviceInfo { return d.info }

// LockForConfiguration は何もしない
func (d *ALSADevice) LockForConfiguration() error { return nil }

// UnlockForConfiguration は何もしない
func (d *ALSADevice) UnlockForConfiguration() {}

func (d *ALSADevice) IsFocusModeSupported(FocusMode) bool { return false }
func (d *ALSADevice) SetFocusMode(FocusMode) error        { return ErrUnsupported }
func (d *ALSADevice) IsFocusPointOfInterestSupported() bool {
	return false
}
func (d *ALSADevice) SetFocusPointOfInterest(Point) error       { return ErrUnsupported }
func (d *ALSADevice) SetZoomFactor(float64) error               { return ErrUnsupported }
func (d *ALSADevice) SetTorchMode(TorchMode) error              { return ErrUnsupported }
func (d *ALSADevice) SetTorchLevel(float64) error               { return ErrUnsupported }
func (d *ALSADevice) SetSubjectAreaChangeMonitoring(bool) error { return ErrUnsupported }

// alsaName は ALSA の入力名を返す
func (d *ALSADevice) alsaName() string {
	return d.info.Name
}

// FFmpegRecordingOutput は ffmpeg プロセスで録画する出力
//
// 録画元はセッションに接続中の入力から決まる。
type FFmpegRecordingOutput struct {
	session *Session
	width   int
	height  int
	fps     int

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// NewFFmpegRecordingOutput は新しいFFmpegRecordingOutputを作成する
func NewFFmpegRecordingOutput(session *Session, width, height, fps int) *FFmpegRecordingOutput {
	return &FFmpegRecordingOutput{
		session: session,
		width:   width,
		height:  height,
		fps:     fps,
	}
}

// StartRecording は path への録画を開始する
func (o *FFmpegRecordingOutput) StartRecording(path string, delegate RecordingDelegate) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cmd != nil {
		return ErrDeviceBusy
	}

	video, ok := o.session.VideoDevice()
	if !ok {
		return ErrNoConnection
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrUnableToWrite, err)
	}

	args := []string{
		"-y",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", o.width, o.height),
		"-r", strconv.Itoa(o.fps),
		"-i", video.Info().ID,
	}
	if audio, ok := o.session.AudioDevice(); ok {
		if alsa, ok := audio.(*ALSADevice); ok {
			args = append(args, "-f", "alsa", "-i", alsa.alsaName())
		}
	}
	args = append(args, "-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p", path)

	cmd := exec.Command("ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdinパイプの作成に失敗: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpegの起動に失敗: %w", err)
	}

	o.cmd = cmd
	o.stdin = stdin
	go delegate.DidStartRecording(path)

	go func() {
		err := cmd.Wait()
		o.mu.Lock()
		o.cmd = nil
		o.stdin = nil
		o.mu.Unlock()

		if err != nil {
			err = fmt.Errorf("%w: ffmpeg: %v (stderr: %s)", ErrUnableToWrite, err, lastLine(stderr.String()))
		}
		delegate.DidFinishRecording(path, err)
	}()

	return nil
}

// StopRecording は ffmpeg に終了を要求する
func (o *FFmpegRecordingOutput) StopRecording() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cmd == nil {
		return ErrNotRunning
	}
	// "q" で ffmpeg はファイルを閉じて終了する
	if _, err := io.WriteString(o.stdin, "q"); err != nil {
		return fmt.Errorf("ffmpegへの停止要求に失敗: %w", err)
	}
	return nil
}

// IsRecording は録画中かどうかを返す
func (o *FFmpegRecordingOutput) IsRecording() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cmd != nil
}

// commandRunner は外部コマンドを実行して標準出力を返す
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w (stderr: %s)", err, lastLine(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// FFmpegPhotoOutput は ffmpeg で1フレームずつ撮影する出力
type FFmpegPhotoOutput struct {
	session    *Session
	width      int
	height     int
	maxBracket int
	timeout    time.Duration
	run        commandRunner
}

// NewFFmpegPhotoOutput は新しいFFmpegPhotoOutputを作成する
func NewFFmpegPhotoOutput(session *Session, width, height, maxBracket int) *FFmpegPhotoOutput {
	if maxBracket <= 0 {
		maxBracket = 3
	}
	return &FFmpegPhotoOutput{
		session:    session,
		width:      width,
		height:     height,
		maxBracket: maxBracket,
		timeout:    10 * time.Second,
		run:        runCommand,
	}
}

// MaxBracketedPhotoCount は1回の要求で指定できる露出補正値の最大数
func (o *FFmpegPhotoOutput) MaxBracketedPhotoCount() int {
	return o.maxBracket
}

// CapturePhoto は露出補正値ごとに1フレームを撮影し、delegate へ通知する
func (o *FFmpegPhotoOutput) CapturePhoto(settings PhotoSettings, delegate PhotoDelegate) error {
	if len(settings.ExposureBiases) > o.maxBracket {
		return fmt.Errorf("%w: 露出補正値が多すぎます (%d > %d)", ErrNotSupported, len(settings.ExposureBiases), o.maxBracket)
	}

	video, ok := o.session.VideoDevice()
	if !ok {
		return ErrNoConnection
	}
	device := video.Info().ID

	biases := settings.ExposureBiases
	if len(biases) == 0 {
		biases = []float64{0}
	}

	go func() {
		// 後続の撮影や録画に補正値を残さない
		defer o.resetBias(device)

		for _, bias := range biases {
			data, err := o.captureFrame(device, bias)
			delegate.DidFinishProcessingPhoto(Photo{
				SettingsID:   settings.ID,
				ExposureBias: bias,
				Data:         data,
				Timestamp:    time.Now(),
			}, err)
		}
	}()

	return nil
}

func (o *FFmpegPhotoOutput) captureFrame(device string, bias float64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	// 0 EV も含めて毎回設定する
	if err := o.setBias(ctx, device, bias); err != nil {
		return nil, err
	}

	data, err := o.run(ctx,
		"ffmpeg",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", o.width, o.height),
		"-i", device,
		"-vframes", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"-q:v", "2", // 高品質JPEG
		"-",
	)
	if err != nil {
		return nil, fmt.Errorf("JPEGフレームキャプチャに失敗: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrUnableToFlatten
	}

	return data, nil
}

// setBias は露出補正を auto_exposure_bias (EV x1000) で指定する
func (o *FFmpegPhotoOutput) setBias(ctx context.Context, device string, bias float64) error {
	_, err := o.run(ctx, "v4l2-ctl", "--device", device,
		"--set-ctrl", fmt.Sprintf("auto_exposure_bias=%d", int(math.Round(bias*1000))))
	if err != nil {
		return fmt.Errorf("%w: 露出補正の設定に失敗: %v", ErrNotSupported, err)
	}
	return nil
}

func (o *FFmpegPhotoOutput) resetBias(device string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	_ = o.setBias(ctx, device, 0)
}

// lastLine は ffmpeg の stderr から最後の行を取り出す
func lastLine(s string) string {
	s = string(bytes.TrimRight([]byte(s), "\n"))
	if i := bytes.LastIndexByte([]byte(s), '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
