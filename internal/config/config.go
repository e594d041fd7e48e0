package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"capturectl/internal/camera"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Camera  CameraConfig  `yaml:"camera"`
	Capture CaptureConfig `yaml:"capture"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host" validate:"required"`                 // リッスンするホスト
	Port int    `yaml:"port" validate:"required,min=1,max=65535"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"min=0"`     // 読み込みタイムアウト
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"min=0"`    // 書き込みタイムアウト
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=0"` // 終了待ちの上限
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Backend string `yaml:"backend" validate:"oneof=virtual v4l2"` // virtual または v4l2

	// デバイスごとの上書き設定（v4l2 のみ）
	Devices []CameraDevice `yaml:"devices" validate:"dive"`

	Position     string        `yaml:"position" validate:"oneof=front back"` // 起動時に使う向き
	Preset       string        `yaml:"preset" validate:"required"`
	ScanInterval time.Duration `yaml:"scan_interval" validate:"min=0"` // 0 なら再スキャンしない
	Muted        bool          `yaml:"muted"`
	AudioDevice  string        `yaml:"audio_device"` // ALSA のデバイス名

	// 録画と撮影の解像度
	Width  int `yaml:"width" validate:"min=1"`
	Height int `yaml:"height" validate:"min=1"`
	FPS    int `yaml:"fps" validate:"min=1,max=240"`
}

// CameraDevice は個別カメラの設定
type CameraDevice struct {
	Device   string `yaml:"device" validate:"required"` // デバイスパス (例: /dev/video0)
	Name     string `yaml:"name"`
	Position string `yaml:"position" validate:"omitempty,oneof=front back unspecified"`
	Type     string `yaml:"type" validate:"omitempty,oneof=wide_angle ultra_wide telephoto external"`
	BuiltIn  bool   `yaml:"built_in"`
	HasTorch bool   `yaml:"has_torch"`
}

// CaptureConfig は撮影の設定
type CaptureConfig struct {
	BracketTimeout  time.Duration `yaml:"bracket_timeout" validate:"min=0"`
	MaxBracketCount int           `yaml:"max_bracket_count" validate:"min=1,max=15"`
}

// StorageConfig は保存先の設定
type StorageConfig struct {
	PhotoDir     string        `yaml:"photo_dir" validate:"required"`
	VideoDir     string        `yaml:"video_dir" validate:"required"`
	AlbumDir     string        `yaml:"album_dir" validate:"required"`
	AlbumTimeout time.Duration `yaml:"album_timeout" validate:"min=0"`
	CacheEnabled bool          `yaml:"cache_enabled"`
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level" validate:"oneof=debug info warn error"`
	Format  string `yaml:"format" validate:"oneof=text json"`
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Camera: CameraConfig{
			Backend:      "virtual",
			Devices:      []CameraDevice{},
			Position:     string(camera.PositionBack),
			Preset:       string(camera.PresetHigh),
			ScanInterval: 30 * time.Second, // 30秒間隔で自動スキャン
			AudioDevice:  "default",
			Width:        1280,
			Height:       720,
			FPS:          30,
		},
		Capture: CaptureConfig{
			BracketTimeout:  10 * time.Second,
			MaxBracketCount: 9,
		},
		Storage: StorageConfig{
			PhotoDir:     "data/photos",
			VideoDir:     "data/videos",
			AlbumDir:     "data/album",
			AlbumTimeout: 30 * time.Second,
			CacheEnabled: true,
		},
		Log: LogConfig{
			Enabled: true,
			Level:   "info",
			Format:  "text",
		},
	}
}

// Load は設定を読み込む
//
// デフォルト値に YAML ファイル（path が空でなければ）、環境変数の順で上書きする。
// カレントディレクトリの .env があれば環境変数として読み込む。
func Load(path string) (*Config, error) {
	// .env がなくてもエラーにしない
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() error {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("SERVER_PORT", c.Server.Port)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)

	c.Camera.Backend = getEnvOrDefault("CAPTURECTL_BACKEND", c.Camera.Backend)
	c.Camera.Position = getEnvOrDefault("CAPTURECTL_POSITION", c.Camera.Position)
	c.Camera.Preset = getEnvOrDefault("CAPTURECTL_PRESET", c.Camera.Preset)

	c.Storage.PhotoDir = getEnvOrDefault("CAPTURECTL_PHOTO_DIR", c.Storage.PhotoDir)
	c.Storage.VideoDir = getEnvOrDefault("CAPTURECTL_VIDEO_DIR", c.Storage.VideoDir)
	c.Storage.AlbumDir = getEnvOrDefault("CAPTURECTL_ALBUM_DIR", c.Storage.AlbumDir)

	c.Log.Level = getEnvOrDefault("CAPTURECTL_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnvOrDefault("CAPTURECTL_LOG_FORMAT", c.Log.Format)

	var err error
	if c.Camera.Muted, err = getEnvAsBoolOrDefault("CAPTURECTL_MUTED", c.Camera.Muted); err != nil {
		return err
	}
	if c.Storage.CacheEnabled, err = getEnvAsBoolOrDefault("CAPTURECTL_CACHE", c.Storage.CacheEnabled); err != nil {
		return err
	}
	if c.Log.Enabled, err = getEnvAsBoolOrDefault("CAPTURECTL_LOG_ENABLED", c.Log.Enabled); err != nil {
		return err
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("無効な設定 %s: %s=%v (%s)", fe.Namespace(), fe.Tag(), fe.Value(), fe.Param())
		}
		return err
	}

	if !camera.Preset(c.Camera.Preset).Valid() {
		return fmt.Errorf("無効なプリセット: %s", c.Camera.Preset)
	}

	seen := make(map[string]bool, len(c.Camera.Devices))
	for _, d := range c.Camera.Devices {
		if seen[d.Device] {
			return fmt.Errorf("デバイス %s が重複しています", d.Device)
		}
		seen[d.Device] = true
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DeviceOverrides はデバイスパスごとの上書き設定を返す
func (c *Config) DeviceOverrides() map[string]camera.DeviceOverride {
	overrides := make(map[string]camera.DeviceOverride, len(c.Camera.Devices))
	for _, d := range c.Camera.Devices {
		overrides[d.Device] = camera.DeviceOverride{
			Name:     d.Name,
			Position: camera.Position(d.Position),
			Type:     camera.DeviceType(d.Type),
			BuiltIn:  d.BuiltIn,
			HasTorch: d.HasTorch,
		}
	}
	return overrides
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsBoolOrDefault は環境変数を真偽値として取得する
func getEnvAsBoolOrDefault(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("環境変数 %s の値が不正です: %q", key, value)
	}
	return b, nil
}
