package camera

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DeviceOverride は検出したデバイスに対する設定上の上書き
type DeviceOverride struct {
	Name     string
	Position Position
	Type     DeviceType
	BuiltIn  bool
	HasTorch bool
}

// LinuxDiscovery はLinux環境でのカメラデバイス検出を実装する
type LinuxDiscovery struct {
	overrides map[string]DeviceOverride
	audio     string
}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
//
// overrides はデバイスパスごとの向きや種類の指定。指定のないデバイスは
// 背面の内蔵広角カメラとして扱う。audio は ALSA のデバイス名。
func NewLinuxDiscovery(overrides map[string]DeviceOverride, audio string) *LinuxDiscovery {
	if overrides == nil {
		overrides = make(map[string]DeviceOverride)
	}
	if audio == "" {
		audio = "default"
	}
	return &LinuxDiscovery{overrides: overrides, audio: audio}
}

// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) ([]Device, error) {
	var devices []Device

	// /dev/video* パターンでデバイスを検索
	matches, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	// デバイス番号でソート
	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	for _, match := range matches {
		// コンテキストのキャンセルをチェック
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if !d.IsDeviceAvailable(ctx, match) || !d.IsMainCamera(ctx, match) {
			continue
		}

		info, err := d.GetDeviceInfo(ctx, match)
		if err != nil {
			continue
		}
		devices = append(devices, NewV4L2Device(info))
	}

	return devices, nil
}

// DefaultAudioDevice は既定の ALSA 入力デバイスを返す
func (d *LinuxDiscovery) DefaultAudioDevice(_ context.Context) (Device, error) {
	data, err := os.ReadFile("/proc/asound/cards")
	if err != nil || strings.Contains(string(data), "no soundcards") {
		return nil, fmt.Errorf("%w: 音声入力デバイスが見つかりません", ErrDeviceInvalid)
	}
	return NewALSADevice(d.audio), nil
}

// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
func (d *LinuxDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	// デバイスファイルの存在確認
	if _, err := os.Stat(device); os.IsNotExist(err) {
		return false
	}

	// デバイスファイルの読み取り権限チェック
	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	defer func() {
		_ = file.Close()
	}()

	return isV4L2Device(device)
}

// GetDeviceInfo はデバイスの詳細情報を取得する
func (d *LinuxDiscovery) GetDeviceInfo(ctx context.Context, device string) (DeviceInfo, error) {
	if !d.IsDeviceAvailable(ctx, device) {
		return DeviceInfo{}, fmt.Errorf("%w: デバイスが利用できません: %s", ErrDeviceInvalid, device)
	}

	info := DeviceInfo{
		ID:       device,
		Name:     generateDeviceName(device),
		Driver:   "uvcvideo",
		Media:    MediaVideo,
		Position: PositionBack,
		Type:     DeviceTypeWideAngle,
		BuiltIn:  true,
	}

	if formats, err := listFormats(ctx, device); err == nil && len(formats) > 0 {
		info.Formats = formats
	} else {
		info.Formats = []Format{
			{Resolution: Resolution{Width: 640, Height: 480}, PixelFormat: "YUYV"},
			{Resolution: Resolution{Width: 1280, Height: 720}, PixelFormat: "MJPG"},
		}
	}

	if o, ok := d.overrides[device]; ok {
		if o.Name != "" {
			info.Name = o.Name
		}
		if o.Position != "" {
			info.Position = o.Position
		}
		if o.Type != "" {
			info.Type = o.Type
		}
		info.BuiltIn = o.BuiltIn
		info.HasTorch = o.HasTorch
	}

	return info, nil
}

// IsMainCamera はデバイスがメインカメラ（カラー）かどうかを判定する
func (d *LinuxDiscovery) IsMainCamera(ctx context.Context, device string) bool {
	output, err := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--list-formats-ext").Output()
	if err != nil {
		return false
	}

	// グレースケールのみのデバイスは除外
	if !hasColorFormat(string(output)) {
		return false
	}

	// 同じ物理デバイスの複数チャンネルの場合、最も小さい番号を選択
	deviceNum := extractDeviceNumber(device)
	for i := 0; i < deviceNum; i++ {
		sibling := fmt.Sprintf("/dev/video%d", i)
		if !d.IsDeviceAvailable(ctx, sibling) {
			continue
		}
		siblingOutput, err := exec.CommandContext(ctx, "v4l2-ctl", "--device", sibling, "--list-formats-ext").Output()
		if err != nil || !hasColorFormat(string(siblingOutput)) {
			continue
		}
		if haveSameCameraName(device, sibling) {
			return false
		}
	}

	return true
}

func hasColorFormat(output string) bool {
	return strings.Contains(output, "YUYV") || strings.Contains(output, "MJPG")
}

// isV4L2Device はデバイスがV4L2デバイスかチェックする
func isV4L2Device(device string) bool {
	matched, _ := regexp.MatchString(`^/dev/video\d+$`, device)
	return matched
}

// generateDeviceName はデバイスパスから表示名を生成する
func generateDeviceName(device string) string {
	if realName := v4l2DeviceName(device); realName != "" {
		return realName
	}
	return fmt.Sprintf("カメラ %d", extractDeviceNumber(device))
}

// v4l2DeviceName はv4l2-ctlを使って実際のデバイス名を取得する
func v4l2DeviceName(device string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--info").Output()
	if err != nil {
		return ""
	}

	// "Card type" の行からカメラ名を抽出
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Card type") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) == 2 {
			if cardType := strings.TrimSpace(parts[1]); cardType != "" {
				return cardType
			}
		}
	}

	return ""
}

// haveSameCameraName は2つのデバイスが同じカメラかチェック
func haveSameCameraName(device1, device2 string) bool {
	name1 := v4l2DeviceName(device1)
	name2 := v4l2DeviceName(device2)
	return name1 != "" && name1 == name2
}

var deviceNumberPattern = regexp.MustCompile(`video(\d+)`)

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	matches := deviceNumberPattern.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}
	return num
}

var (
	formatLinePattern = regexp.MustCompile(`^\[\d+\]:\s+'(\w+)'`)
	sizeLinePattern   = regexp.MustCompile(`Size:\s+\w+\s+(\d+)x(\d+)`)
)

// parseFormats は v4l2-ctl --list-formats-ext の出力からフォーマット一覧を取り出す
func parseFormats(output string) []Format {
	var formats []Format
	pixelFormat := ""

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if m := formatLinePattern.FindStringSubmatch(line); m != nil {
			pixelFormat = m[1]
			continue
		}
		if m := sizeLinePattern.FindStringSubmatch(line); m != nil && pixelFormat != "" {
			w, _ := strconv.Atoi(m[1])
			h, _ := strconv.Atoi(m[2])
			formats = append(formats, Format{
				Resolution:  Resolution{Width: w, Height: h},
				PixelFormat: pixelFormat,
			})
		}
	}

	return formats
}

// listFormats はデバイスがサポートするフォーマット一覧を取得する
func listFormats(ctx context.Context, device string) ([]Format, error) {
	output, err := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--list-formats-ext").Output()
	if err != nil {
		return nil, fmt.Errorf("フォーマット一覧の取得に失敗: %w", err)
	}
	return parseFormats(string(output)), nil
}

// VirtualDiscovery はメモリ上のデバイスを返すDiscovery実装
//
// virtual バックエンドとテストで使用する。
type VirtualDiscovery struct {
	mu      sync.RWMutex
	devices []Device
	audio   Device
	scanErr error
}

// NewVirtualDiscovery は新しいVirtualDiscoveryを作成する
func NewVirtualDiscovery(devices []Device, audio Device) *VirtualDiscovery {
	return &VirtualDiscovery{devices: devices, audio: audio}
}

// DefaultVirtualDevices は virtual バックエンドの既定のデバイス構成を返す
func DefaultVirtualDevices() ([]Device, Device) {
	back := NewVirtualDevice(DeviceInfo{
		ID:       "virtual:back-wide",
		Name:     "背面カメラ",
		Driver:   "virtual",
		Media:    MediaVideo,
		Position: PositionBack,
		Type:     DeviceTypeWideAngle,
		BuiltIn:  true,
		HasTorch: true,
		Formats: []Format{
			{Resolution: Resolution{Width: 1920, Height: 1080}, PixelFormat: "MJPG"},
			{Resolution: Resolution{Width: 3840, Height: 2160}, PixelFormat: "MJPG"},
		},
	})
	tele := NewVirtualDevice(DeviceInfo{
		ID:       "virtual:back-tele",
		Name:     "背面望遠カメラ",
		Driver:   "virtual",
		Media:    MediaVideo,
		Position: PositionBack,
		Type:     DeviceTypeTelephoto,
		BuiltIn:  true,
		Formats: []Format{
			{Resolution: Resolution{Width: 1920, Height: 1080}, PixelFormat: "MJPG"},
		},
	})
	front := NewVirtualDevice(DeviceInfo{
		ID:       "virtual:front-wide",
		Name:     "前面カメラ",
		Driver:   "virtual",
		Media:    MediaVideo,
		Position: PositionFront,
		Type:     DeviceTypeWideAngle,
		BuiltIn:  true,
		Formats: []Format{
			{Resolution: Resolution{Width: 1280, Height: 720}, PixelFormat: "YUYV"},
			{Resolution: Resolution{Width: 1920, Height: 1080}, PixelFormat: "MJPG"},
		},
	})
	mic := NewVirtualDevice(DeviceInfo{
		ID:      "virtual:mic",
		Name:    "内蔵マイク",
		Driver:  "virtual",
		Media:   MediaAudio,
		Type:    DeviceTypeMicrophone,
		BuiltIn: true,
	})

	return []Device{back, tele, front}, mic
}

// ScanDevices はデバイス一覧を返す
func (m *VirtualDiscovery) ScanDevices(_ context.Context) ([]Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.scanErr != nil {
		return nil, m.scanErr
	}
	devices := make([]Device, len(m.devices))
	copy(devices, m.devices)
	return devices, nil
}

// DefaultAudioDevice は音声デバイスを返す
func (m *VirtualDiscovery) DefaultAudioDevice(_ context.Context) (Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.audio == nil {
		return nil, fmt.Errorf("%w: 音声入力デバイスが見つかりません", ErrDeviceInvalid)
	}
	return m.audio, nil
}

// AddDevice はテスト用にデバイスを追加する
func (m *VirtualDiscovery) AddDevice(device Device) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := device.Info().ID
	for _, d := range m.devices {
		if d.Info().ID == id {
			return
		}
	}
	m.devices = append(m.devices, device)
}

// RemoveDevice はテスト用にデバイスを削除する
func (m *VirtualDiscovery) RemoveDevice(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, d := range m.devices {
		if d.Info().ID == id {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			return
		}
	}
}

// SetAudioDevice はテスト用に音声デバイスを差し替える（nil で音声なし）
func (m *VirtualDiscovery) SetAudioDevice(device Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audio = device
}

// SetScanError はテスト用にスキャン時のエラーを設定する
func (m *VirtualDiscovery) SetScanError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanErr = err
}
