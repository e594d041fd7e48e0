// Package tuning はキャプチャセッションへの構成変更を直列化する
//
// # 責務
//
// 全ての構成変更は Queue を通して1件ずつ、投入順に実行する。
// 構成バッチやデバイスロックは操作が宣言した場合にのみ取得し、
// どの終了経路でも必ず解放する。
//
// # 操作の種類
//
//   - セッション: MuteTuner, QualityTuner, CameraPositionTuner（構成バッチ）
//   - 接続: OrientationTuner, StabilizationTuner（足場なし）
//   - デバイス: AutoFocusTuner, ZoomTuner, TorchTuner, ChangeMonitoringTuner（ロック）
package tuning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"capturectl/internal/camera"
	"capturectl/internal/metrics"
)

// ErrQueueClosed は停止済みのキューに投入されたことを表す
var ErrQueueClosed = errors.New("構成キューは停止しています")

type job struct {
	op         Operation
	onComplete func(error)
}

// Queue は構成変更を1つのワーカーで先入れ先出しに実行する
type Queue struct {
	session *camera.Session
	log     *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []job
	closed bool
	done   chan struct{}
}

// NewQueue は新しいQueueを作成し、ワーカーを開始する
func NewQueue(session *camera.Session, log *slog.Logger, m *metrics.Metrics) *Queue {
	q := &Queue{
		session: session,
		log:     log,
		metrics: m,
		done:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Submit は操作をキューに積む。呼び出し元はブロックしない
//
// onComplete は操作ごとにちょうど1回、ワーカー側のゴルーチンから呼ばれる。
func (q *Queue) Submit(op Operation, onComplete func(error)) {
	if onComplete == nil {
		onComplete = func(error) {}
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		go onComplete(ErrQueueClosed)
		return
	}
	q.jobs = append(q.jobs, job{op: op, onComplete: onComplete})
	q.metrics.SetQueueDepth(len(q.jobs))
	q.mu.Unlock()

	q.cond.Signal()
}

// Do は操作を投入し、完了まで待つ
//
// ctx が先に終わった場合も操作自体は実行される。待機のみを中断する。
func (q *Queue) Do(ctx context.Context, op Operation) error {
	result := make(chan error, 1)
	q.Submit(op, func(err error) { result <- err })

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len は待機中の操作数を返す
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close は新規投入を止め、積まれている操作を実行し終えてからワーカーを止める
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cond.Broadcast()
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for len(q.jobs) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.jobs) == 0 {
			q.mu.Unlock()
			return
		}
		j := q.jobs[0]
		q.jobs[0] = job{}
		q.jobs = q.jobs[1:]
		q.metrics.SetQueueDepth(len(q.jobs))
		q.mu.Unlock()

		start := time.Now()
		err := q.execute(j.op)
		q.metrics.ObserveTuning(j.op.Name(), time.Since(start), err)

		if err != nil {
			q.log.Error("構成変更に失敗しました", "operation", j.op.Name(), "error", err)
		} else {
			q.log.Debug("構成変更を適用しました", "operation", j.op.Name())
		}
		j.onComplete(err)
	}
}

// execute は操作が宣言した足場を組んで Apply を呼ぶ
func (q *Queue) execute(op Operation) error {
	target := &Target{Session: q.session}

	if op.NeedsTransaction() {
		if err := q.session.BeginConfiguration(); err != nil {
			return err
		}
		defer q.session.CommitConfiguration()
	}

	if op.NeedsLock() {
		device, ok := q.session.VideoDevice()
		if !ok {
			return fmt.Errorf("%w: 映像デバイスが接続されていません", camera.ErrDeviceInvalid)
		}
		if err := device.LockForConfiguration(); err != nil {
			return err
		}
		defer device.UnlockForConfiguration()
		target.Device = device
	}

	return safeApply(op, target)
}

func safeApply(op Operation, target *Target) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s の適用中にパニック: %v", op.Name(), r)
		}
	}()
	return op.Apply(target)
}
