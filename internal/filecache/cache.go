// Package filecache はディレクトリ内のファイルごとの派生データをキャッシュする
//
// # 仕様
//
// ディレクトリの更新時刻が前回と同じであればスナップショットをそのまま使い、
// 変わっていれば一覧を取り直して未知のファイルだけ派生データを計算する。
// 既に持っているエントリを計算し直すことはない。
//
// 更新時刻の分解能はファイルシステムに依存するため、前回の読み取りと同じ
// 時刻窓の中で起きた変更は見逃すことがある。
package filecache

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"capturectl/internal/metrics"
)

// Entry はキャッシュされた1ファイル分の情報
type Entry[T any] struct {
	Path    string
	Created time.Time
	Size    int64
	Value   T
}

// DeriveFunc はファイルから派生データを計算する
type DeriveFunc[T any] func(path string) (T, error)

// Options はキャッシュの動作設定
type Options struct {
	// Enabled が false の場合は毎回一覧を取り直し、全ファイルを計算する
	Enabled bool

	// Filter はファイル名で対象を絞り込む（nil なら全ての通常ファイル）
	Filter func(name string) bool

	Name    string
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Cache はディレクトリのスナップショットと派生データを保持する
type Cache[T any] struct {
	dir    string
	derive DeriveFunc[T]
	opts   Options
	log    *slog.Logger

	mu      sync.Mutex
	loaded  bool
	modTime time.Time
	entries map[string]Entry[T]
}

// New は新しいCacheを作成する
func New[T any](dir string, derive DeriveFunc[T], opts Options) *Cache[T] {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if opts.Name == "" {
		opts.Name = filepath.Base(dir)
	}
	return &Cache[T]{
		dir:     dir,
		derive:  derive,
		opts:    opts,
		log:     log.With("cache", opts.Name),
		entries: make(map[string]Entry[T]),
	}
}

// Dir は対象ディレクトリを返す
func (c *Cache[T]) Dir() string {
	return c.dir
}

// Fetch は作成日時の新しい順にエントリを返す。limit が 0 なら全件
//
// ディレクトリが読めない場合はログに残して空を返す。
func (c *Cache[T]) Fetch(limit int) []Entry[T] {
	if !c.opts.Enabled {
		return truncate(sortEntries(c.scanAll()), limit)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := os.Stat(c.dir)
	if err != nil {
		c.log.Warn("ディレクトリを読み取れません", "dir", c.dir, "error", err)
		return nil
	}

	if c.loaded && info.ModTime().Equal(c.modTime) {
		c.opts.Metrics.IncCacheReuse(c.opts.Name)
	} else {
		c.updateLocked(info.ModTime())
	}

	entries := make([]Entry[T], 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	return truncate(sortEntries(entries), limit)
}

// Invalidate はスナップショットを破棄し、次の Fetch で全て作り直させる
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loaded = false
	c.modTime = time.Time{}
	c.entries = make(map[string]Entry[T])
}

// Renew は更新時刻に関係なく差分更新を1回行う
func (c *Cache[T]) Renew() {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := os.Stat(c.dir)
	if err != nil {
		c.log.Warn("ディレクトリを読み取れません", "dir", c.dir, "error", err)
		return
	}
	c.updateLocked(info.ModTime())
}

// Len はキャッシュ済みのエントリ数を返す
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// updateLocked は一覧を取り直し、未知のファイルだけ計算する（ロック済み前提）
func (c *Cache[T]) updateLocked(modTime time.Time) {
	files, err := c.list()
	if err != nil {
		c.log.Warn("ディレクトリの一覧取得に失敗しました", "dir", c.dir, "error", err)
		return
	}

	seen := make(map[string]struct{}, len(files))
	derived := 0
	for _, f := range files {
		seen[f.path] = struct{}{}
		if _, ok := c.entries[f.path]; ok {
			continue
		}

		e, ok := c.build(f)
		if !ok {
			continue
		}
		c.entries[f.path] = e
		derived++
	}

	// 消えたファイルを取り除く
	for path := range c.entries {
		if _, ok := seen[path]; !ok {
			delete(c.entries, path)
		}
	}

	c.opts.Metrics.IncCacheDerivations(c.opts.Name, derived)
	c.loaded = true
	c.modTime = modTime
	c.log.Debug("スナップショットを更新しました", "entries", len(c.entries), "derived", derived)
}

// scanAll はキャッシュを使わずに全ファイルを計算する
func (c *Cache[T]) scanAll() []Entry[T] {
	files, err := c.list()
	if err != nil {
		c.log.Warn("ディレクトリの一覧取得に失敗しました", "dir", c.dir, "error", err)
		return nil
	}

	entries := make([]Entry[T], 0, len(files))
	for _, f := range files {
		if e, ok := c.build(f); ok {
			entries = append(entries, e)
		}
	}
	c.opts.Metrics.IncCacheDerivations(c.opts.Name, len(entries))
	return entries
}

func (c *Cache[T]) build(f file) (Entry[T], bool) {
	value, err := c.derive(f.path)
	if err != nil {
		c.log.Warn("派生データの計算に失敗しました", "path", f.path, "error", err)
		return Entry[T]{}, false
	}
	return Entry[T]{
		Path:    f.path,
		Created: f.created,
		Size:    f.size,
		Value:   value,
	}, true
}

type file struct {
	path    string
	created time.Time
	size    int64
}

// list は対象の通常ファイルを列挙する
func (c *Cache[T]) list() ([]file, error) {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}

	files := make([]file, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.Type().IsRegular() {
			continue
		}
		if c.opts.Filter != nil && !c.opts.Filter(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// 列挙中に消えたファイル
			continue
		}
		path := filepath.Join(c.dir, de.Name())
		files = append(files, file{
			path:    path,
			created: creationTime(path, info),
			size:    info.Size(),
		})
	}
	return files, nil
}

func sortEntries[T any](entries []Entry[T]) []Entry[T] {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Created.Equal(entries[j].Created) {
			return entries[i].Created.After(entries[j].Created)
		}
		return entries[i].Path < entries[j].Path
	})
	return entries
}

func truncate[T any](entries []Entry[T], limit int) []Entry[T] {
	if limit > 0 && len(entries) > limit {
		return entries[:limit]
	}
	return entries
}
