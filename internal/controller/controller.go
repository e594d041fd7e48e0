// Package controller は高レベルの操作をチューニング操作と撮影・録画の調停役に変換する
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"capturectl/internal/album"
	"capturectl/internal/camera"
	"capturectl/internal/config"
	"capturectl/internal/gallery"
	"capturectl/internal/metrics"
	"capturectl/internal/photo"
	"capturectl/internal/recording"
	"capturectl/internal/tuning"
)

// Backend はハードウェア側の実装一式
type Backend struct {
	Discovery camera.Discovery
	Recording camera.RecordingOutput
	Photo     camera.PhotoOutput
}

// VirtualBackend はメモリ上で動作するバックエンドを作成する
func VirtualBackend() Backend {
	devices, mic := camera.DefaultVirtualDevices()
	return Backend{
		Discovery: camera.NewVirtualDiscovery(devices, mic),
		Recording: camera.NewVirtualRecordingOutput(),
		Photo:     camera.NewVirtualPhotoOutput(),
	}
}

// V4L2Backend は v4l2-ctl と ffmpeg を使うバックエンドを作成する
func V4L2Backend(cfg *config.Config, session *camera.Session) Backend {
	c := cfg.Camera
	return Backend{
		Discovery: camera.NewLinuxDiscovery(cfg.DeviceOverrides(), c.AudioDevice),
		Recording: camera.NewFFmpegRecordingOutput(session, c.Width, c.Height, c.FPS),
		Photo:     camera.NewFFmpegPhotoOutput(session, c.Width, c.Height, photo.MaxBatchSize),
	}
}

// SavedPhoto は保存済みの写真
type SavedPhoto struct {
	Path         string    `json:"path"`
	SettingsID   uuid.UUID `json:"settings_id"`
	ExposureBias float64   `json:"exposure_bias"`
	Size         int       `json:"size"`
}

// Controller はキャプチャセッションとその周辺を束ねる
type Controller struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *metrics.Metrics

	session  *camera.Session
	backend  Backend
	queue    *tuning.Queue
	registry *camera.Registry
	recorder *recording.Coordinator
	photos   *photo.Coordinator
	library  album.Library
	gallery  *gallery.Gallery

	mu         sync.Mutex
	configured bool
	shutdown   bool
}

// New は設定に従ってバックエンドを選び、Controllerを作成する
func New(cfg *config.Config, log *slog.Logger, m *metrics.Metrics) (*Controller, error) {
	session := camera.NewSession(log.With("component", "session"))

	var backend Backend
	switch cfg.Camera.Backend {
	case "virtual":
		backend = VirtualBackend()
	case "v4l2":
		backend = V4L2Backend(cfg, session)
	default:
		return nil, fmt.Errorf("未知のバックエンド: %s", cfg.Camera.Backend)
	}

	library := album.NewDirLibrary(cfg.Storage.AlbumDir, log.With("component", "album"))
	return NewWithBackend(cfg, session, backend, library, log, m), nil
}

// NewWithBackend は指定したバックエンドとライブラリでControllerを作成する
func NewWithBackend(cfg *config.Config, session *camera.Session, backend Backend, library album.Library, log *slog.Logger, m *metrics.Metrics) *Controller {
	recorder := recording.NewCoordinator(backend.Recording, library, log.With("component", "recording"), m)
	if cfg.Storage.AlbumTimeout > 0 {
		recorder.SetAlbumTimeout(cfg.Storage.AlbumTimeout)
	}

	return &Controller{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		session:  session,
		backend:  backend,
		queue:    tuning.NewQueue(session, log.With("component", "tuning"), m),
		registry: camera.NewRegistry(backend.Discovery, cfg.Camera.ScanInterval, log.With("component", "registry")),
		recorder: recorder,
		photos:   photo.NewCoordinator(backend.Photo, cfg.Capture.BracketTimeout, log.With("component", "photo"), m),
		library:  library,
		gallery: gallery.New(cfg.Storage.PhotoDir, cfg.Storage.VideoDir, gallery.Options{
			CacheEnabled:    cfg.Storage.CacheEnabled,
			VideoThumbnails: cfg.Camera.Backend == "v4l2",
			Logger:          log.With("component", "gallery"),
			Metrics:         m,
		}),
	}
}

// Configure はデバイスを検出し、入力と出力を接続してセッションを開始する
func (c *Controller) Configure(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.configured {
		return nil
	}

	if err := c.registry.Start(ctx); err != nil {
		return fmt.Errorf("デバイスの検出に失敗: %w", err)
	}

	devices := c.registry.Devices()
	c.metrics.SetDevices(len(devices))

	video, ok := tuning.SelectDevice(devices, camera.Position(c.cfg.Camera.Position), "")
	if !ok {
		if len(devices) == 0 {
			return fmt.Errorf("%w: 映像デバイスが見つかりません", camera.ErrDeviceInvalid)
		}
		video = devices[0]
	}

	setup := tuning.SessionSetupTuner{
		Video:     video,
		Recording: c.backend.Recording,
		Photo:     c.backend.Photo,
		Preset:    camera.Preset(c.cfg.Camera.Preset),
	}
	if !c.cfg.Camera.Muted {
		if audio, ok := c.registry.AudioDevice(); ok {
			setup.Audio = audio
		}
	}

	if err := c.queue.Do(ctx, setup); err != nil {
		return fmt.Errorf("セッションの構成に失敗: %w", err)
	}
	if err := c.queue.Do(ctx, tuning.RunningTuner{Running: true}); err != nil {
		return fmt.Errorf("セッションの開始に失敗: %w", err)
	}

	c.configured = true
	c.log.Info("セッションを開始しました", "video", video.Info().ID, "audio", setup.Audio != nil)
	return nil
}

func (c *Controller) ensureConfigured() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdown || !c.configured {
		return fmt.Errorf("%w: セッションが構成されていません", camera.ErrNotConfigured)
	}
	return nil
}

func (c *Controller) ensureRunning() error {
	if err := c.ensureConfigured(); err != nil {
		return err
	}
	if !c.session.IsRunning() {
		return fmt.Errorf("%w: セッションが停止しています", camera.ErrNotRunning)
	}
	return nil
}

// SetRunning はセッションの開始と停止を切り替える
func (c *Controller) SetRunning(ctx context.Context, running bool) error {
	if err := c.ensureConfigured(); err != nil {
		return err
	}
	return c.queue.Do(ctx, tuning.RunningTuner{Running: running})
}

// SetMuted は音声入力の着脱で消音を切り替える
func (c *Controller) SetMuted(ctx context.Context, muted bool) error {
	if err := c.ensureConfigured(); err != nil {
		return err
	}
	return c.queue.Do(ctx, tuning.MuteTuner{Muted: muted, Audio: c.registry})
}

// SetQuality はプリセットを変更する
func (c *Controller) SetQuality(ctx context.Context, preset camera.Preset) error {
	if err := c.ensureConfigured(); err != nil {
		return err
	}
	return c.queue.Do(ctx, tuning.QualityTuner{Preset: preset})
}

// SwitchCamera は映像入力を指定した向きのカメラに切り替える
func (c *Controller) SwitchCamera(ctx context.Context, position camera.Position, preferred camera.DeviceType) error {
	if err := c.ensureConfigured(); err != nil {
		return err
	}
	return c.queue.Do(ctx, tuning.CameraPositionTuner{
		Position:  position,
		Preferred: preferred,
		Devices:   c.registry,
	})
}

// SetOrientation は映像の向きを設定する
func (c *Controller) SetOrientation(ctx context.Context, orientation camera.Orientation) error {
	conn, err := c.videoConnection()
	if err != nil {
		return err
	}
	return c.queue.Do(ctx, tuning.OrientationTuner{Connection: conn, Orientation: orientation})
}

// SetStabilization は手ぶれ補正モードを設定する
func (c *Controller) SetStabilization(ctx context.Context, mode camera.StabilizationMode) error {
	conn, err := c.videoConnection()
	if err != nil {
		return err
	}
	return c.queue.Do(ctx, tuning.StabilizationTuner{Connection: conn, Mode: mode})
}

func (c *Controller) videoConnection() (*camera.Connection, error) {
	if err := c.ensureConfigured(); err != nil {
		return nil, err
	}
	conn, ok := c.session.Connection(camera.MediaVideo)
	if !ok {
		return nil, fmt.Errorf("%w: 映像の接続がありません", camera.ErrNoConnection)
	}
	return conn, nil
}

// Focus はフォーカスモードと注目点を設定する
func (c *Controller) Focus(ctx context.Context, mode camera.FocusMode, point *camera.Point) error {
	if err := c.ensureConfigured(); err != nil {
		return err
	}
	return c.queue.Do(ctx, tuning.AutoFocusTuner{Mode: mode, Point: point})
}

// Zoom はズーム倍率を設定する
func (c *Controller) Zoom(ctx context.Context, factor float64) error {
	if err := c.ensureConfigured(); err != nil {
		return err
	}
	return c.queue.Do(ctx, tuning.ZoomTuner{Factor: factor})
}

// Torch はトーチのモードと明るさを設定する
func (c *Controller) Torch(ctx context.Context, mode camera.TorchMode, level float64) error {
	if err := c.ensureConfigured(); err != nil {
		return err
	}
	return c.queue.Do(ctx, tuning.TorchTuner{Mode: mode, Level: level})
}

// SetSubjectMonitoring は被写体領域の変化監視を切り替える
func (c *Controller) SetSubjectMonitoring(ctx context.Context, enabled bool) error {
	if err := c.ensureConfigured(); err != nil {
		return err
	}
	return c.queue.Do(ctx, tuning.ChangeMonitoringTuner{Enabled: enabled})
}

// StartRecording は新しいファイルへの録画を開始し、そのパスを返す
func (c *Controller) StartRecording(ctx context.Context) (string, error) {
	if err := c.ensureRunning(); err != nil {
		return "", err
	}

	path := filepath.Join(c.cfg.Storage.VideoDir, uuid.NewString()+".mp4")

	// 構成変更と順序を揃えるためキューを通す
	err := c.queue.Do(ctx, tuning.Func{
		OpName: "start_recording",
		Fn: func(*tuning.Target) error {
			return c.recorder.Start(path)
		},
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// StopRecording は録画を終了し、アルバムへの登録まで待つ
func (c *Controller) StopRecording(ctx context.Context) (string, error) {
	if err := c.ensureConfigured(); err != nil {
		return "", err
	}

	path, err := c.recorder.Stop(ctx)
	if err != nil {
		return "", err
	}
	c.gallery.Renew()
	return path, nil
}

// TakePhoto は1枚撮影して保存し、アルバムに登録する
func (c *Controller) TakePhoto(ctx context.Context, flash camera.FlashMode) (SavedPhoto, error) {
	if err := c.ensureRunning(); err != nil {
		return SavedPhoto{}, err
	}

	settings := camera.NewPhotoSettings()
	if flash != "" {
		settings.Flash = flash
	}

	p, err := c.photos.Capture(ctx, settings)
	if err != nil {
		return SavedPhoto{}, err
	}

	saved, err := c.savePhoto(ctx, p, settings.ID.String()+".jpg")
	if err != nil {
		return SavedPhoto{}, err
	}
	c.gallery.Renew()
	return saved, nil
}

// TakeBracket は露出を変えて n 枚撮影し、全て保存してアルバムに登録する
func (c *Controller) TakeBracket(ctx context.Context, n int) ([]SavedPhoto, error) {
	if err := c.ensureRunning(); err != nil {
		return nil, err
	}
	if n > c.cfg.Capture.MaxBracketCount {
		return nil, fmt.Errorf("%w: 撮影枚数の上限は %d 枚です", camera.ErrNotSupported, c.cfg.Capture.MaxBracketCount)
	}

	photos, err := c.photos.CaptureBracket(ctx, n)
	if err != nil {
		return nil, err
	}

	saved := make([]SavedPhoto, 0, len(photos))
	for i, p := range photos {
		name := fmt.Sprintf("%s_%02d_ev%+.0f.jpg", p.SettingsID, i, p.ExposureBias)
		s, err := c.savePhoto(ctx, p, name)
		if err != nil {
			return nil, err
		}
		saved = append(saved, s)
	}
	c.gallery.Renew()
	return saved, nil
}

// savePhoto は写真をファイルに書き出し、アルバムに登録する
func (c *Controller) savePhoto(ctx context.Context, p camera.Photo, name string) (SavedPhoto, error) {
	if len(p.Data) == 0 {
		return SavedPhoto{}, fmt.Errorf("%w: 写真データが空です", camera.ErrUnableToFlatten)
	}

	if err := os.MkdirAll(c.cfg.Storage.PhotoDir, 0755); err != nil {
		return SavedPhoto{}, fmt.Errorf("%w: %v", camera.ErrUnableToWrite, err)
	}
	path := filepath.Join(c.cfg.Storage.PhotoDir, name)
	if err := os.WriteFile(path, p.Data, 0644); err != nil {
		return SavedPhoto{}, fmt.Errorf("%w: %v", camera.ErrUnableToWrite, err)
	}

	if err := c.library.AddImage(ctx, p.Data, name); err != nil {
		return SavedPhoto{}, err
	}

	return SavedPhoto{
		Path:         path,
		SettingsID:   p.SettingsID,
		ExposureBias: p.ExposureBias,
		Size:         len(p.Data),
	}, nil
}

// Photos は撮影済みの写真を新しい順に返す
func (c *Controller) Photos(limit int) []gallery.Item {
	return c.gallery.Photos(limit)
}

// Videos は録画済みの動画を新しい順に返す
func (c *Controller) Videos(limit int) []gallery.Item {
	return c.gallery.Videos(limit)
}

// Thumbnail はギャラリー項目のサムネイルを返す
func (c *Controller) Thumbnail(kind gallery.Kind, name string) ([]byte, bool) {
	return c.gallery.Thumbnail(kind, name)
}

// Devices は検出済みの映像デバイス一覧を返す
func (c *Controller) Devices() []camera.DeviceInfo {
	devices := c.registry.Devices()
	infos := make([]camera.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		infos = append(infos, d.Info())
	}
	return infos
}

// Rescan はデバイスを再検出する
func (c *Controller) Rescan(ctx context.Context) error {
	if err := c.registry.Rescan(ctx); err != nil {
		return err
	}
	c.metrics.SetDevices(len(c.registry.Devices()))
	return nil
}

// ConnectionStatus は接続1つの状態
type ConnectionStatus struct {
	Media         camera.MediaType         `json:"media"`
	Device        string                   `json:"device"`
	Orientation   camera.Orientation       `json:"orientation"`
	Stabilization camera.StabilizationMode `json:"stabilization"`
}

// Status はセッション全体の状態
type Status struct {
	Configured    bool               `json:"configured"`
	Running       bool               `json:"running"`
	Preset        camera.Preset      `json:"preset"`
	Muted         bool               `json:"muted"`
	Recording     string             `json:"recording"`
	RecordingPath string             `json:"recording_path,omitempty"`
	VideoDevice   string             `json:"video_device,omitempty"`
	AudioDevice   string             `json:"audio_device,omitempty"`
	Connections   []ConnectionStatus `json:"connections"`
	QueueDepth    int                `json:"queue_depth"`
	Commits       int                `json:"commits"`
}

// Status は現在のセッション状態を返す
func (c *Controller) Status() Status {
	c.mu.Lock()
	configured := c.configured && !c.shutdown
	c.mu.Unlock()

	st := Status{
		Configured:    configured,
		Running:       c.session.IsRunning(),
		Preset:        c.session.Preset(),
		Recording:     c.recorder.State().String(),
		RecordingPath: c.recorder.Path(),
		QueueDepth:    c.queue.Len(),
		Commits:       c.session.Commits(),
		Connections:   []ConnectionStatus{},
	}
	if d, ok := c.session.VideoDevice(); ok {
		st.VideoDevice = d.Info().ID
	}
	if d, ok := c.session.AudioDevice(); ok {
		st.AudioDevice = d.Info().ID
	}
	st.Muted = st.AudioDevice == ""

	for _, conn := range c.session.Connections() {
		cs := ConnectionStatus{
			Media:         conn.Media(),
			Orientation:   conn.Orientation(),
			Stabilization: conn.Stabilization(),
		}
		if in := conn.Input(); in != nil {
			cs.Device = in.Info().ID
		}
		st.Connections = append(st.Connections, cs)
	}
	return st
}

// Shutdown は録画を止め、セッションを解体してキューを停止する
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	configured := c.configured
	c.mu.Unlock()

	var errs []error
	if configured && c.recorder.IsRecording() {
		if _, err := c.recorder.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("録画の停止に失敗: %w", err))
		}
	}
	if configured {
		if err := c.queue.Do(ctx, tuning.TeardownTuner{}); err != nil {
			errs = append(errs, fmt.Errorf("セッションの解体に失敗: %w", err))
		}
	}

	c.queue.Close()
	c.registry.Stop()

	c.log.Info("セッションを終了しました")
	return errors.Join(errs...)
}
