package tuning

import (
	"capturectl/internal/camera"
)

// Target はチューニング操作の適用先
//
// Device は NeedsLock な操作の場合のみ設定される（ロック取得済み）。
type Target struct {
	Session *camera.Session
	Device  camera.Device
}

// Operation は共有キャプチャセッションに対する1件の構成変更
//
// キューは NeedsTransaction と NeedsLock だけを見て足場を組み、
// 具体的な種類によって処理を変えることはない。
type Operation interface {
	// Name はログとメトリクスに使う操作名
	Name() string

	// NeedsTransaction はセッションの構成バッチが必要かを返す
	NeedsTransaction() bool

	// NeedsLock はデバイスの設定ロックが必要かを返す
	NeedsLock() bool

	// Apply は変更を適用する
	Apply(target *Target) error
}

// sessionScope はセッション構成を変更する操作の共通部分
type sessionScope struct{}

func (sessionScope) NeedsTransaction() bool { return true }
func (sessionScope) NeedsLock() bool        { return false }

// directScope は足場なしで直接適用する操作の共通部分
type directScope struct{}

func (directScope) NeedsTransaction() bool { return false }
func (directScope) NeedsLock() bool        { return false }

// deviceScope はデバイスの設定ロックを必要とする操作の共通部分
type deviceScope struct{}

func (deviceScope) NeedsTransaction() bool { return false }
func (deviceScope) NeedsLock() bool        { return true }

// Func は任意の関数を Operation として扱うためのアダプタ
type Func struct {
	OpName      string
	Transaction bool
	Lock        bool
	Fn          func(target *Target) error
}

func (f Func) Name() string {
	if f.OpName == "" {
		return "func"
	}
	return f.OpName
}

func (f Func) NeedsTransaction() bool { return f.Transaction }
func (f Func) NeedsLock() bool        { return f.Lock }

func (f Func) Apply(target *Target) error {
	if f.Fn == nil {
		return nil
	}
	return f.Fn(target)
}
