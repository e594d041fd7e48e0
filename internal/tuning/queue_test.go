package tuning

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"capturectl/internal/camera"
)

func newTestQueue(t *testing.T) (*Queue, *camera.Session) {
	t.Helper()
	session := camera.NewSession(slog.New(slog.DiscardHandler))
	q := NewQueue(session, slog.New(slog.DiscardHandler), nil)
	t.Cleanup(q.Close)
	return q, session
}

func attachVideo(t *testing.T, session *camera.Session) *camera.VirtualDevice {
	t.Helper()
	device := camera.NewVirtualDevice(camera.DeviceInfo{
		ID:       "virtual:test",
		Media:    camera.MediaVideo,
		Position: camera.PositionBack,
		BuiltIn:  true,
		HasTorch: true,
	})
	if err := session.AddInput(device); err != nil {
		t.Fatalf("AddInput failed: %v", err)
	}
	return device
}

func waitAll(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for completions")
	}
}

func TestQueue_OrderAndScaffolding(t *testing.T) {
	q, session := newTestQueue(t)
	device := attachVideo(t, session)

	const n = 30
	var (
		mu          sync.Mutex
		order       []int
		violations  []string
		completions = make([]int, n)
		wg          sync.WaitGroup
	)

	transactions := 0
	locks := 0
	for i := 0; i < n; i++ {
		i := i
		op := Func{OpName: "mixed"}
		switch i % 3 {
		case 0:
			op.Transaction = true
			prior := transactions
			transactions++
			op.Fn = func(target *Target) error {
				// 直前までの構成バッチは全て確定済み
				if !target.Session.IsConfiguring() || target.Session.Commits() != prior {
					mu.Lock()
					violations = append(violations, "transaction overlap")
					mu.Unlock()
				}
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			}
		case 1:
			op.Lock = true
			prior := locks
			locks++
			op.Fn = func(target *Target) error {
				if !device.IsLocked() || device.LockCount() != prior+1 || target.Device == nil {
					mu.Lock()
					violations = append(violations, "lock overlap")
					mu.Unlock()
				}
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			}
		default:
			op.Fn = func(target *Target) error {
				if target.Session.IsConfiguring() || device.IsLocked() {
					mu.Lock()
					violations = append(violations, "scaffolding leaked")
					mu.Unlock()
				}
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			}
		}

		wg.Add(1)
		q.Submit(op, func(err error) {
			defer wg.Done()
			mu.Lock()
			completions[i]++
			mu.Unlock()
			if err != nil {
				t.Errorf("operation %d failed: %v", i, err)
			}
		})
	}

	waitAll(t, &wg)

	mu.Lock()
	defer mu.Unlock()

	if len(violations) > 0 {
		t.Fatalf("Scaffolding violations: %v", violations)
	}
	for i, c := range completions {
		if c != 1 {
			t.Errorf("operation %d completed %d times", i, c)
		}
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("Expected FIFO order, got %v", order)
		}
	}
	if session.IsConfiguring() || device.IsLocked() {
		t.Error("Expected scaffolding to be released after the queue drained")
	}
}

func TestQueue_LockWithoutVideoDevice(t *testing.T) {
	q, _ := newTestQueue(t)

	applied := false
	err := q.Do(context.Background(), Func{Lock: true, Fn: func(*Target) error {
		applied = true
		return nil
	}})

	if !errors.Is(err, camera.ErrDeviceInvalid) {
		t.Fatalf("Expected ErrDeviceInvalid, got %v", err)
	}
	if applied {
		t.Error("Apply must not run without a video device")
	}
}

func TestQueue_LockFailure(t *testing.T) {
	q, session := newTestQueue(t)
	device := attachVideo(t, session)
	device.SetLockError(camera.ErrDeviceBusy)

	err := q.Do(context.Background(), ZoomTuner{Factor: 2})
	if !errors.Is(err, camera.ErrDeviceBusy) {
		t.Fatalf("Expected ErrDeviceBusy, got %v", err)
	}
}

func TestQueue_FailureIsIsolated(t *testing.T) {
	q, session := newTestQueue(t)
	device := attachVideo(t, session)

	boom := errors.New("boom")
	var wg sync.WaitGroup
	var firstErr, secondErr error

	wg.Add(2)
	q.Submit(Func{Transaction: true, Fn: func(*Target) error { return boom }}, func(err error) {
		firstErr = err
		wg.Done()
	})
	q.Submit(ZoomTuner{Factor: 3}, func(err error) {
		secondErr = err
		wg.Done()
	})
	waitAll(t, &wg)

	if !errors.Is(firstErr, boom) {
		t.Errorf("Expected first operation to fail with boom, got %v", firstErr)
	}
	if secondErr != nil {
		t.Errorf("Expected second operation to succeed, got %v", secondErr)
	}
	if device.ZoomFactor() != 3 {
		t.Errorf("Expected zoom 3, got %v", device.ZoomFactor())
	}
	if session.IsConfiguring() {
		t.Error("Expected failed transaction to be committed")
	}
}

func TestQueue_RecoversPanic(t *testing.T) {
	q, session := newTestQueue(t)
	device := attachVideo(t, session)

	err := q.Do(context.Background(), Func{Lock: true, Fn: func(*Target) error {
		panic("driver exploded")
	}})
	if err == nil {
		t.Fatal("Expected panic to be reported as an error")
	}
	if device.IsLocked() {
		t.Error("Expected lock to be released after panic")
	}

	// 後続の操作は動く
	if err := q.Do(context.Background(), ZoomTuner{Factor: 1.5}); err != nil {
		t.Fatalf("Expected queue to keep working, got %v", err)
	}
}

func TestQueue_CompletionIsAsynchronous(t *testing.T) {
	q, _ := newTestQueue(t)

	block := make(chan struct{})
	q.Submit(Func{Fn: func(*Target) error {
		<-block
		return nil
	}}, nil)

	returned := make(chan struct{})
	called := make(chan struct{})
	go func() {
		q.Submit(Func{}, func(error) { close(called) })
		close(returned)
	}()

	// Submit はワーカーを待たずに戻る
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a busy worker")
	}
	select {
	case <-called:
		t.Fatal("Completion fired before the operation ran")
	default:
	}

	close(block)
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("Completion never fired")
	}
}

func TestQueue_CloseDrains(t *testing.T) {
	session := camera.NewSession(slog.New(slog.DiscardHandler))
	q := NewQueue(session, slog.New(slog.DiscardHandler), nil)

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 5; i++ {
		q.Submit(Func{Fn: func(*Target) error {
			time.Sleep(time.Millisecond)
			mu.Lock()
			ran++
			mu.Unlock()
			return nil
		}}, nil)
	}
	q.Close()

	mu.Lock()
	if ran != 5 {
		t.Errorf("Expected 5 drained operations, got %d", ran)
	}
	mu.Unlock()

	if err := q.Do(context.Background(), Func{}); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("Expected empty queue, got %d", q.Len())
	}
}

func TestQueue_DoContextCanceled(t *testing.T) {
	q, _ := newTestQueue(t)

	block := make(chan struct{})
	defer close(block)
	q.Submit(Func{Fn: func(*Target) error {
		<-block
		return nil
	}}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.Do(ctx, Func{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
}
