package completion

import (
	"errors"
	"sync"
	"testing"

	"capturectl/internal/camera"
)

func TestSlot_RegisterResolve(t *testing.T) {
	var s Slot[string]

	ch, err := s.Register()
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !s.Pending() {
		t.Error("Expected slot to be pending")
	}

	// 2つ目の登録は拒否される
	if _, err := s.Register(); !errors.Is(err, camera.ErrDeviceBusy) {
		t.Errorf("Expected ErrDeviceBusy, got %v", err)
	}

	if !s.Resolve("done", nil) {
		t.Fatal("Expected Resolve to find the pending completion")
	}
	res := <-ch
	if res.Value != "done" || res.Err != nil {
		t.Errorf("Unexpected result: %+v", res)
	}

	// 解決後は空
	if s.Resolve("again", nil) {
		t.Error("Expected second Resolve to find nothing")
	}
	if s.Pending() {
		t.Error("Expected slot to be empty after resolve")
	}
}

func TestSlot_Release(t *testing.T) {
	var s Slot[int]

	ch, _ := s.Register()
	if !s.Release(ch) {
		t.Fatal("Expected Release to remove the pending registration")
	}
	if s.Release(ch) {
		t.Error("Expected second Release to be a no-op")
	}

	// 別の登録は解放できない
	ch2, _ := s.Register()
	if s.Release(ch) {
		t.Error("Expected stale channel not to release the new registration")
	}
	if !s.Release(ch2) {
		t.Error("Expected Release of the current registration to succeed")
	}
}

func TestSlot_ExactlyOnce(t *testing.T) {
	var s Slot[int]
	ch, _ := s.Register()

	// 同時に解決しても届くのは1回だけ
	var wg sync.WaitGroup
	resolved := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			resolved <- s.Resolve(n, nil)
		}(i)
	}
	wg.Wait()
	close(resolved)

	count := 0
	for ok := range resolved {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("Expected exactly 1 resolution, got %d", count)
	}
	<-ch
	select {
	case res := <-ch:
		t.Errorf("Unexpected second result: %+v", res)
	default:
	}
}

func TestSlot_ResolveIf(t *testing.T) {
	var s Slot[string]

	// 取り消された待機の後に登録された待機には届かない
	stale, _ := s.Register()
	s.Release(stale)
	current, _ := s.Register()

	if s.ResolveIf(stale, "old", nil) {
		t.Fatal("Expected ResolveIf with a released channel to do nothing")
	}
	if !s.Pending() {
		t.Fatal("Expected the current registration to stay pending")
	}

	if !s.ResolveIf(current, "new", nil) {
		t.Fatal("Expected ResolveIf with the current channel to resolve")
	}
	if res := <-current; res.Value != "new" {
		t.Errorf("Expected new, got %q", res.Value)
	}
	if s.ResolveIf(current, "again", nil) {
		t.Error("Expected second ResolveIf to find nothing")
	}
	if s.ResolveIf(nil, "none", nil) {
		t.Error("Expected ResolveIf with nil channel to do nothing")
	}
}
