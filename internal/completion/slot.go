// Package completion はハードウェアのコールバックを1回だけ解決される結果に橋渡しする
package completion

import (
	"sync"

	"capturectl/internal/camera"
)

// Result は待機中の呼び出し元に届く結果
type Result[T any] struct {
	Value T
	Err   error
}

// Slot は待機中の完了を最大1つだけ保持する
//
// 登録済みの間に再登録すると camera.ErrDeviceBusy を返す。
type Slot[T any] struct {
	mu      sync.Mutex
	pending chan Result[T]
}

// Register は新しい待機を登録し、結果を受け取るチャネルを返す
func (s *Slot[T]) Register() (<-chan Result[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		return nil, camera.ErrDeviceBusy
	}
	ch := make(chan Result[T], 1)
	s.pending = ch
	return ch, nil
}

// Take は待機中の完了を取り出す。待機がなければ false を返す
func (s *Slot[T]) Take() (Completion[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return Completion[T]{}, false
	}
	ch := s.pending
	s.pending = nil
	return Completion[T]{ch: ch}, true
}

// Resolve は待機中の完了があればそれを解決する
func (s *Slot[T]) Resolve(value T, err error) bool {
	c, ok := s.Take()
	if !ok {
		return false
	}
	c.Resolve(value, err)
	return true
}

// ResolveIf は ch がまだ待機中の場合に限りそれを解決する
//
// 解決までの間に待機が取り消され、別の登録に置き換わっていれば何もしない。
func (s *Slot[T]) ResolveIf(ch <-chan Result[T], value T, err error) bool {
	s.mu.Lock()
	if ch == nil || s.pending == nil || (<-chan Result[T])(s.pending) != ch {
		s.mu.Unlock()
		return false
	}
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	Completion[T]{ch: pending}.Resolve(value, err)
	return true
}

// Release は ch がまだ待機中であれば登録を取り消す
//
// 呼び出し元が待機をやめたときに使う。既に取り出されていれば false。
func (s *Slot[T]) Release(ch <-chan Result[T]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil || (<-chan Result[T])(s.pending) != ch {
		return false
	}
	s.pending = nil
	return true
}

// Pending は待機が登録されているかを返す
func (s *Slot[T]) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Completion はスロットから取り出した1回限りの解決ハンドル
type Completion[T any] struct {
	ch chan Result[T]
}

// Resolve は結果を届ける。バッファ付きチャネルなのでブロックしない
func (c Completion[T]) Resolve(value T, err error) {
	if c.ch == nil {
		return
	}
	c.ch <- Result[T]{Value: value, Err: err}
}
