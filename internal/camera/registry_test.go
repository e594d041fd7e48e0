package camera

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestRegistry_Basic(t *testing.T) {
	ctx := context.Background()
	devices, mic := DefaultVirtualDevices()
	registry := NewRegistry(NewVirtualDiscovery(devices, mic), 0, slog.New(slog.DiscardHandler))

	// Start
	if err := registry.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer registry.Stop()

	// 自動検出されたデバイスを確認
	found := registry.Devices()
	if len(found) != 3 {
		t.Fatalf("Expected 3 devices, got %d", len(found))
	}
	for i := 1; i < len(found); i++ {
		if found[i-1].Info().ID > found[i].Info().ID {
			t.Errorf("Devices not sorted by ID: %s > %s", found[i-1].Info().ID, found[i].Info().ID)
		}
	}

	if _, ok := registry.Device("virtual:front-wide"); !ok {
		t.Error("Expected front camera to be registered")
	}
	if _, ok := registry.AudioDevice(); !ok {
		t.Error("Expected audio device to be registered")
	}
}

func TestRegistry_Rescan(t *testing.T) {
	ctx := context.Background()
	discovery := NewVirtualDiscovery(nil, nil)
	registry := NewRegistry(discovery, 0, slog.New(slog.DiscardHandler))

	if err := registry.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer registry.Stop()

	// 初期状態では0台
	if n := len(registry.Devices()); n != 0 {
		t.Fatalf("Expected 0 devices initially, got %d", n)
	}

	discovery.AddDevice(NewVirtualDevice(DeviceInfo{ID: "virtual:0", Media: MediaVideo}))
	if err := registry.Rescan(ctx); err != nil {
		t.Fatalf("Rescan failed: %v", err)
	}
	if n := len(registry.Devices()); n != 1 {
		t.Fatalf("Expected 1 device after rescan, got %d", n)
	}

	// 取り外されたデバイスは一覧から消える
	discovery.RemoveDevice("virtual:0")
	if err := registry.Rescan(ctx); err != nil {
		t.Fatalf("Rescan failed: %v", err)
	}
	if _, ok := registry.Device("virtual:0"); ok {
		t.Error("Expected removed device to be pruned")
	}
}

func TestRegistry_StartError(t *testing.T) {
	discovery := NewVirtualDiscovery(nil, nil)
	discovery.SetScanError(errors.New("boom"))
	registry := NewRegistry(discovery, 0, slog.New(slog.DiscardHandler))

	if err := registry.Start(context.Background()); err == nil {
		t.Fatal("Expected Start to fail when the initial scan fails")
	}
}

func TestRegistry_BackgroundScan(t *testing.T) {
	ctx := context.Background()
	discovery := NewVirtualDiscovery(nil, nil)
	registry := NewRegistry(discovery, 10*time.Millisecond, slog.New(slog.DiscardHandler))

	if err := registry.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	discovery.AddDevice(NewVirtualDevice(DeviceInfo{ID: "virtual:late", Media: MediaVideo}))

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := registry.Device("virtual:late"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Background scan did not pick up the new device")
		}
		time.Sleep(5 * time.Millisecond)
	}

	registry.Stop()
	// 二重停止しても問題ない
	registry.Stop()
}
