package camera

import (
	"fmt"
	"log/slog"
	"sync"
)

// Connection は入力と出力の組み合わせ1つを表す
type Connection struct {
	mu            sync.RWMutex
	media         MediaType
	input         Device
	orientation   Orientation
	stabilization StabilizationMode
}

// Media は接続のメディア種別を返す
func (c *Connection) Media() MediaType {
	return c.media
}

// Input は接続されている入力デバイスを返す
func (c *Connection) Input() Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.input
}

// Orientation は現在の映像の向きを返す
func (c *Connection) Orientation() Orientation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.orientation
}

// SetOrientation は映像の向きを設定する
func (c *Connection) SetOrientation(o Orientation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orientation = o
}

// Stabilization は現在の手ぶれ補正モードを返す
func (c *Connection) Stabilization() StabilizationMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stabilization
}

// SetStabilization は手ぶれ補正モードを設定する
func (c *Connection) SetStabilization(mode StabilizationMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stabilization = mode
}

// Session は共有キャプチャパイプラインを表す
//
// 入力・出力・接続・動作状態・プリセットを保持する。変更操作は
// ConfigurationQueue のワーカーからのみ呼び出されることを前提とし、
// 読み取りは任意のゴルーチンから行える。
type Session struct {
	mu sync.RWMutex

	inputs      []Device
	recording   RecordingOutput
	photo       PhotoOutput
	connections map[MediaType]*Connection
	running     bool
	preset      Preset

	// 構成バッチ
	configuring bool
	commits     int

	log *slog.Logger
}

// NewSession は新しいSessionを作成する
func NewSession(log *slog.Logger) *Session {
	return &Session{
		connections: make(map[MediaType]*Connection),
		preset:      PresetHigh,
		log:         log,
	}
}

// BeginConfiguration は構成バッチを開始する
func (s *Session) BeginConfiguration() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.configuring {
		return ErrNestedConfiguration
	}
	s.configuring = true
	return nil
}

// CommitConfiguration は構成バッチを確定する
func (s *Session) CommitConfiguration() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.configuring {
		return
	}
	s.configuring = false
	s.commits++
}

// IsConfiguring は構成バッチが開かれているかを返す
func (s *Session) IsConfiguring() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configuring
}

// Commits は確定された構成バッチの数を返す
func (s *Session) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

// CanAddInput はデバイスを入力として追加できるかを返す
func (s *Session) CanAddInput(device Device) bool {
	if device == nil {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	media := device.Info().Media
	for _, in := range s.inputs {
		if in.Info().Media == media {
			return false
		}
	}
	return true
}

// AddInput は入力デバイスを追加する
func (s *Session) AddInput(device Device) error {
	if !s.CanAddInput(device) {
		return ErrUnableToSetInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.inputs = append(s.inputs, device)
	s.rebuildConnectionsLocked()

	s.log.Debug("入力を追加しました", "device", device.Info().ID)
	return nil
}

// RemoveInput は入力デバイスを取り外す
func (s *Session) RemoveInput(device Device) {
	if device == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := device.Info().ID
	for i, in := range s.inputs {
		if in.Info().ID == id {
			s.inputs = append(s.inputs[:i], s.inputs[i+1:]...)
			break
		}
	}
	s.rebuildConnectionsLocked()

	s.log.Debug("入力を取り外しました", "device", id)
}

// Inputs は接続中の入力デバイス一覧を返す
func (s *Session) Inputs() []Device {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inputs := make([]Device, len(s.inputs))
	copy(inputs, s.inputs)
	return inputs
}

// VideoDevice は接続中の映像デバイスを返す
func (s *Session) VideoDevice() (Device, bool) {
	return s.inputFor(MediaVideo)
}

// AudioDevice は接続中の音声デバイスを返す
func (s *Session) AudioDevice() (Device, bool) {
	return s.inputFor(MediaAudio)
}

func (s *Session) inputFor(media MediaType) (Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, in := range s.inputs {
		if in.Info().Media == media {
			return in, true
		}
	}
	return nil, false
}

// SetRecordingOutput は録画出力を設定する
func (s *Session) SetRecordingOutput(output RecordingOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if output == nil || (s.recording != nil && s.recording != output) {
		return ErrUnableToSetOutput
	}
	s.recording = output
	s.rebuildConnectionsLocked()
	return nil
}

// SetPhotoOutput は写真出力を設定する
func (s *Session) SetPhotoOutput(output PhotoOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if output == nil || (s.photo != nil && s.photo != output) {
		return ErrUnableToSetOutput
	}
	s.photo = output
	s.rebuildConnectionsLocked()
	return nil
}

// RecordingOutput は録画出力を返す
func (s *Session) RecordingOutput() (RecordingOutput, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recording, s.recording != nil
}

// PhotoOutput は写真出力を返す
func (s *Session) PhotoOutput() (PhotoOutput, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.photo, s.photo != nil
}

// Connection は指定メディアの接続を返す
func (s *Session) Connection(media MediaType) (*Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.connections[media]
	return conn, ok
}

// Connections は有効な接続一覧を返す
func (s *Session) Connections() []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conns := make([]*Connection, 0, len(s.connections))
	for _, media := range []MediaType{MediaVideo, MediaAudio} {
		if conn, ok := s.connections[media]; ok {
			conns = append(conns, conn)
		}
	}
	return conns
}

// rebuildConnectionsLocked は入力と出力の組み合わせから接続を再構築する（ロック済み前提）
//
// 既存の接続は入力だけを差し替えて再利用し、向きや手ぶれ補正の設定を引き継ぐ。
func (s *Session) rebuildConnectionsLocked() {
	var video, audio Device
	for _, in := range s.inputs {
		switch in.Info().Media {
		case MediaVideo:
			video = in
		case MediaAudio:
			audio = in
		}
	}

	s.linkLocked(MediaVideo, video, s.recording != nil || s.photo != nil)
	s.linkLocked(MediaAudio, audio, s.recording != nil)
}

func (s *Session) linkLocked(media MediaType, input Device, hasOutput bool) {
	if input == nil || !hasOutput {
		delete(s.connections, media)
		return
	}

	conn, ok := s.connections[media]
	if !ok {
		conn = &Connection{
			media:         media,
			orientation:   OrientationPortrait,
			stabilization: StabilizationOff,
		}
		s.connections[media] = conn
	}

	conn.mu.Lock()
	conn.input = input
	conn.mu.Unlock()
}

// Preset は現在のプリセットを返す
func (s *Session) Preset() Preset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.preset
}

// CanSetPreset はプリセットを適用できるかを返す
func (s *Session) CanSetPreset(preset Preset) bool {
	return preset.Valid()
}

// SetPreset はプリセットを設定する
func (s *Session) SetPreset(preset Preset) error {
	if !s.CanSetPreset(preset) {
		return fmt.Errorf("%w: プリセット %q", ErrNotSupported, preset)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.preset = preset
	return nil
}

// Start はセッションを動作状態にする
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hasVideo := false
	for _, in := range s.inputs {
		if in.Info().Media == MediaVideo {
			hasVideo = true
			break
		}
	}
	if !hasVideo {
		return fmt.Errorf("%w: 映像入力がありません", ErrNotConfigured)
	}

	s.running = true
	return nil
}

// Stop はセッションを停止する
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// IsRunning は動作中かどうかを返す
func (s *Session) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Teardown はセッションを停止し、全ての入力を取り外す
func (s *Session) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	s.inputs = nil
	s.rebuildConnectionsLocked()
}
