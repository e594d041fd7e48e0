// Package recording は連続録画の開始・停止をハードウェアのコールバックと橋渡しする
package recording

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"capturectl/internal/album"
	"capturectl/internal/camera"
	"capturectl/internal/completion"
	"capturectl/internal/metrics"
)

// State は録画の状態
type State int

const (
	Idle      State = iota // 待機中
	Recording              // 録画中
	Finishing              // 終了通知待ち
)

func (s State) String() string {
	switch s {
	case Recording:
		return "recording"
	case Finishing:
		return "finishing"
	default:
		return "idle"
	}
}

// DefaultAlbumTimeout はアルバムへの登録を待つ既定の時間
const DefaultAlbumTimeout = 30 * time.Second

// Coordinator は録画の状態遷移と完了通知を管理する
//
// camera.RecordingDelegate を実装し、終了通知で待機中の Stop をちょうど1回解決する。
type Coordinator struct {
	output       camera.RecordingOutput
	library      album.Library
	albumTimeout time.Duration
	log          *slog.Logger
	metrics      *metrics.Metrics

	mu    sync.Mutex
	state State
	path  string

	pending completion.Slot[string]
}

// NewCoordinator は新しいCoordinatorを作成する
func NewCoordinator(output camera.RecordingOutput, library album.Library, log *slog.Logger, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		output:       output,
		library:      library,
		albumTimeout: DefaultAlbumTimeout,
		log:          log,
		metrics:      m,
	}
}

// SetAlbumTimeout はアルバム登録の待ち時間を設定する
func (c *Coordinator) SetAlbumTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.albumTimeout = d
}

// Start は path への録画を開始する
//
// 状態の確認は行わない。二重開始は出力側が拒否する。
func (c *Coordinator) Start(path string) error {
	if err := c.output.StartRecording(path, c); err != nil {
		return err
	}

	c.mu.Lock()
	c.state = Recording
	c.path = path
	c.mu.Unlock()

	c.log.Info("録画を開始しました", "path", path)
	return nil
}

// Stop は録画の終了を要求し、終了通知が届くまで待つ
//
// 成功時は録画ファイルのパスを返す。ctx が先に終わった場合は待機を取り消す。
func (c *Coordinator) Stop(ctx context.Context) (string, error) {
	ch, err := c.pending.Register()
	if err != nil {
		return "", fmt.Errorf("%w: 停止処理が既に進行中です", err)
	}

	c.mu.Lock()
	previous := c.state
	c.state = Finishing
	c.mu.Unlock()

	if err := c.output.StopRecording(); err != nil {
		if c.pending.Release(ch) {
			c.mu.Lock()
			if c.state == Finishing {
				c.state = previous
				if !c.output.IsRecording() {
					c.state = Idle
				}
			}
			c.mu.Unlock()
		}
		return "", err
	}

	select {
	case res := <-ch:
		return res.Value, res.Err
	case <-ctx.Done():
		c.pending.Release(ch)
		return "", ctx.Err()
	}
}

// State は現在の状態を返す
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Path は録画中のファイルパスを返す
func (c *Coordinator) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// IsRecording は録画中（終了待ちを含む）かどうかを返す
func (c *Coordinator) IsRecording() bool {
	return c.State() != Idle
}

// DidStartRecording は録画開始の通知を受け取る
func (c *Coordinator) DidStartRecording(path string) {
	c.log.Debug("録画開始の通知を受け取りました", "path", path)
}

// DidFinishRecording は録画終了の通知を受け取り、待機中の Stop を解決する
func (c *Coordinator) DidFinishRecording(path string, err error) {
	c.mu.Lock()
	c.state = Idle
	c.path = ""
	timeout := c.albumTimeout
	c.mu.Unlock()

	done, ok := c.pending.Take()
	if !ok {
		c.log.Warn("待機中の停止要求がないため終了通知を破棄しました", "path", path, "error", err)
		return
	}

	if err != nil {
		c.log.Error("録画に失敗しました", "path", path, "error", err)
		c.metrics.ObserveRecording(err)
		done.Resolve("", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := c.library.AddVideo(ctx, path); err != nil {
		c.log.Error("録画のアルバム登録に失敗しました", "path", path, "error", err)
		c.metrics.ObserveRecording(err)
		done.Resolve("", err)
		return
	}

	c.log.Info("録画を終了しました", "path", path)
	c.metrics.ObserveRecording(nil)
	done.Resolve(path, nil)
}
