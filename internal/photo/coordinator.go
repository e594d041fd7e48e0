// Package photo は単写とブラケット撮影をハードウェアのコールバックと橋渡しする
package photo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"capturectl/internal/camera"
	"capturectl/internal/completion"
	"capturectl/internal/metrics"
)

// DefaultBracketTimeout はブラケット撮影の既定の制限時間
const DefaultBracketTimeout = 10 * time.Second

// MaxBatchSize はハードウェアに一度に渡せる露出補正値の上限
const MaxBatchSize = 3

// bracketRequest は1回のブラケット撮影の進行状況
type bracketRequest struct {
	n      int
	ids    map[uuid.UUID]bool
	photos []camera.Photo
	timer  *time.Timer
	ch     <-chan completion.Result[[]camera.Photo]
}

// Coordinator は撮影要求と写真の到着通知を対応付ける
//
// camera.PhotoDelegate を実装する。通知は撮影設定のIDで単写とブラケットに振り分ける。
type Coordinator struct {
	output  camera.PhotoOutput
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	singleID uuid.UUID
	singleCh <-chan completion.Result[camera.Photo]
	bracket  *bracketRequest

	single    completion.Slot[camera.Photo]
	aggregate completion.Slot[[]camera.Photo]
}

// NewCoordinator は新しいCoordinatorを作成する
func NewCoordinator(output camera.PhotoOutput, timeout time.Duration, log *slog.Logger, m *metrics.Metrics) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultBracketTimeout
	}
	return &Coordinator{
		output:  output,
		timeout: timeout,
		log:     log,
		metrics: m,
	}
}

// Capture は1枚撮影し、写真が届くまで待つ
func (c *Coordinator) Capture(ctx context.Context, settings camera.PhotoSettings) (photo camera.Photo, err error) {
	defer func() { c.metrics.ObserveCapture("single", err) }()

	// 通知の振り分けにIDを使うため、未設定なら払い出す
	if settings.ID == uuid.Nil {
		settings.ID = uuid.New()
	}

	ch, err := c.single.Register()
	if err != nil {
		return camera.Photo{}, fmt.Errorf("%w: 撮影が既に進行中です", err)
	}

	c.mu.Lock()
	c.singleID = settings.ID
	c.singleCh = ch
	c.mu.Unlock()

	abandon := func() {
		if c.single.Release(ch) {
			c.mu.Lock()
			if c.singleID == settings.ID {
				c.singleID = uuid.Nil
				c.singleCh = nil
			}
			c.mu.Unlock()
		}
	}

	if err := c.output.CapturePhoto(settings, c); err != nil {
		abandon()
		return camera.Photo{}, err
	}

	select {
	case res := <-ch:
		return res.Value, res.Err
	case <-ctx.Done():
		abandon()
		return camera.Photo{}, ctx.Err()
	}
}

// CaptureBracket は露出を変えて n 枚撮影し、全て揃うまで待つ
//
// 結果は到着順。1枚でも失敗すれば全体が失敗し、制限時間内に揃わなければ
// camera.ErrTimeout を返す。
func (c *Coordinator) CaptureBracket(ctx context.Context, n int) (photos []camera.Photo, err error) {
	defer func() { c.metrics.ObserveCapture("bracket", err) }()

	if n < 1 {
		return nil, fmt.Errorf("%w: 撮影枚数 %d", camera.ErrNotSupported, n)
	}

	size := MaxBatchSize
	if limit := c.output.MaxBracketedPhotoCount(); limit > 0 && limit < size {
		size = limit
	}
	batches := Batches(BracketBiases(n), size)

	ch, err := c.aggregate.Register()
	if err != nil {
		return nil, fmt.Errorf("%w: ブラケット撮影が既に進行中です", err)
	}

	req := &bracketRequest{
		n:   n,
		ids: make(map[uuid.UUID]bool, len(batches)),
		ch:  ch,
	}
	settings := make([]camera.PhotoSettings, 0, len(batches))
	for _, batch := range batches {
		s := camera.NewPhotoSettings()
		s.ExposureBiases = batch
		req.ids[s.ID] = true
		settings = append(settings, s)
	}

	c.mu.Lock()
	c.bracket = req
	req.timer = time.AfterFunc(c.timeout, func() {
		c.finishBracket(req, nil, fmt.Errorf("%w: ブラケット撮影 (%d 枚中 %d 枚)", camera.ErrTimeout, n, c.delivered(req)))
	})
	c.mu.Unlock()

	c.log.Debug("ブラケット撮影を開始しました", "count", n, "batches", len(batches))

	for _, s := range settings {
		if err := c.output.CapturePhoto(s, c); err != nil {
			c.finishBracket(req, nil, err)
			break
		}
	}

	select {
	case res := <-ch:
		return res.Value, res.Err
	case <-ctx.Done():
		c.abandonBracket(req, ch)
		return nil, ctx.Err()
	}
}

func (c *Coordinator) delivered(req *bracketRequest) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(req.photos)
}

// finishBracket は req がまだ進行中であれば結果を確定する
func (c *Coordinator) finishBracket(req *bracketRequest, photos []camera.Photo, err error) {
	c.mu.Lock()
	if c.bracket != req {
		c.mu.Unlock()
		return
	}
	c.bracket = nil
	req.timer.Stop()
	c.mu.Unlock()

	c.aggregate.ResolveIf(req.ch, photos, err)
}

func (c *Coordinator) abandonBracket(req *bracketRequest, ch <-chan completion.Result[[]camera.Photo]) {
	c.mu.Lock()
	if c.bracket == req {
		c.bracket = nil
		req.timer.Stop()
	}
	c.mu.Unlock()

	c.aggregate.Release(ch)
}

// DidFinishProcessingPhoto は写真1枚の到着通知を受け取る
func (c *Coordinator) DidFinishProcessingPhoto(photo camera.Photo, err error) {
	c.mu.Lock()

	if c.singleID != uuid.Nil && photo.SettingsID == c.singleID {
		ch := c.singleCh
		c.singleID = uuid.Nil
		c.singleCh = nil
		c.mu.Unlock()
		if !c.single.ResolveIf(ch, photo, err) {
			c.log.Warn("待機が取り消されたため写真を破棄しました", "settings_id", photo.SettingsID)
		}
		return
	}

	req := c.bracket
	if req == nil || !req.ids[photo.SettingsID] {
		c.mu.Unlock()
		c.log.Warn("対応する撮影要求がないため写真を破棄しました", "settings_id", photo.SettingsID, "error", err)
		return
	}

	if err != nil {
		c.mu.Unlock()
		c.log.Error("ブラケット撮影の写真処理に失敗しました", "settings_id", photo.SettingsID, "error", err)
		c.finishBracket(req, nil, err)
		return
	}

	req.photos = append(req.photos, photo)
	if len(req.photos) < req.n {
		c.mu.Unlock()
		return
	}
	photos := req.photos
	c.mu.Unlock()

	c.finishBracket(req, photos, nil)
}

// BracketBiases は -n/2 から n/2 までの整数の露出補正値を昇順で返す
//
// n が偶数の場合は n+1 個になる。
func BracketBiases(n int) []float64 {
	if n < 1 {
		return nil
	}
	biases := make([]float64, 0, n+1)
	for i := -n / 2; i <= n/2; i++ {
		biases = append(biases, float64(i))
	}
	return biases
}

// Batches は values を先頭から size 個ずつのまとまりに分ける
func Batches(values []float64, size int) [][]float64 {
	if size <= 0 {
		size = MaxBatchSize
	}
	batches := make([][]float64, 0, (len(values)+size-1)/size)
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		batches = append(batches, values[start:end:end])
	}
	return batches
}
