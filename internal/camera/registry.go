package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry は検出済みデバイスの一覧を管理する
//
// 起動時に一度スキャンし、scanInterval が正の場合はバックグラウンドで
// 定期的に再スキャンする。消えたデバイスは一覧から取り除く。
type Registry struct {
	discovery Discovery
	devices   map[string]Device
	audio     Device
	mu        sync.RWMutex

	// 制御用
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool

	scanInterval time.Duration
	log          *slog.Logger
}

// NewRegistry は新しいRegistryを作成する
func NewRegistry(discovery Discovery, scanInterval time.Duration, log *slog.Logger) *Registry {
	return &Registry{
		discovery:    discovery,
		devices:      make(map[string]Device),
		stopCh:       make(chan struct{}),
		scanInterval: scanInterval,
		log:          log,
	}
}

// Start は初期スキャンを行い、バックグラウンドスキャンを開始する
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	// 初期スキャンを実行
	if err := r.performDiscovery(ctx); err != nil {
		return fmt.Errorf("初期スキャンに失敗: %w", err)
	}

	if r.scanInterval > 0 {
		r.wg.Add(1)
		go r.backgroundScan(ctx)
	}
	r.started = true

	return nil
}

// Stop はバックグラウンドスキャンを停止する
func (r *Registry) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	r.stopCh = make(chan struct{})
	r.mu.Unlock()
}

// Rescan はデバイスを再検出する
func (r *Registry) Rescan(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.performDiscovery(ctx)
}

// Devices は管理中の映像デバイス一覧をID順で返す
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Info().ID < devices[j].Info().ID
	})
	return devices
}

// Device は指定されたIDのデバイスを返す
func (r *Registry) Device(id string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	return d, ok
}

// AudioDevice は既定の音声入力デバイスを返す
func (r *Registry) AudioDevice() (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.audio, r.audio != nil
}

// performDiscovery は実際の検出処理を実行する（ロック済み前提）
func (r *Registry) performDiscovery(ctx context.Context) error {
	devices, err := r.discovery.ScanDevices(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		id := d.Info().ID
		seen[id] = struct{}{}
		if _, ok := r.devices[id]; !ok {
			r.devices[id] = d
			r.log.Info("デバイスを検出しました", "device", id, "name", d.Info().Name)
		}
	}

	// 存在しなくなったデバイスを削除
	for id := range r.devices {
		if _, ok := seen[id]; !ok {
			delete(r.devices, id)
			r.log.Info("デバイスが取り外されました", "device", id)
		}
	}

	audio, err := r.discovery.DefaultAudioDevice(ctx)
	if err != nil {
		r.audio = nil
		r.log.Debug("音声入力デバイスがありません", "error", err)
	} else {
		r.audio = audio
	}

	return nil
}

// backgroundScan は定期的なデバイススキャンを実行する
func (r *Registry) backgroundScan(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.scanInterval)
	defer ticker.Stop()

	r.mu.RLock()
	stopCh := r.stopCh
	r.mu.RUnlock()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			if err := r.performDiscovery(ctx); err != nil {
				r.log.Warn("デバイスの再スキャンに失敗しました", "error", err)
			}
			r.mu.Unlock()
		}
	}
}
