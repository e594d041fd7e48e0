// Package album はメディアライブラリへの保存を扱う
package album

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"capturectl/internal/camera"
)

// Library はメディアライブラリの協調相手
type Library interface {
	// AddVideo は録画ファイルをライブラリに登録する
	AddVideo(ctx context.Context, path string) error

	// AddImage は画像データをライブラリに登録する
	AddImage(ctx context.Context, data []byte, name string) error
}

var videoExtensions = map[string]bool{
	".mp4": true,
	".mov": true,
	".m4v": true,
	".mkv": true,
}

// IsVideo は拡張子が動画コンテナかどうかを返す
func IsVideo(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// DirLibrary はディレクトリにコピーして保存するライブラリ
type DirLibrary struct {
	dir string
	log *slog.Logger
	mu  sync.Mutex
}

// NewDirLibrary は新しいDirLibraryを作成する
func NewDirLibrary(dir string, log *slog.Logger) *DirLibrary {
	return &DirLibrary{dir: dir, log: log}
}

// Dir は保存先ディレクトリを返す
func (l *DirLibrary) Dir() string {
	return l.dir
}

// AddVideo は録画ファイルをアルバムディレクトリにコピーする
func (l *DirLibrary) AddVideo(ctx context.Context, path string) error {
	if !IsVideo(path) {
		return fmt.Errorf("%w: %s", camera.ErrNotVideo, filepath.Base(path))
	}

	src, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", camera.ErrAssetMissing, path)
		}
		return fmt.Errorf("%w: %v", camera.ErrAlbumInaccessible, err)
	}
	defer func() {
		_ = src.Close()
	}()

	return l.store(ctx, filepath.Base(path), src)
}

// AddImage は画像データをアルバムディレクトリに書き出す
func (l *DirLibrary) AddImage(ctx context.Context, data []byte, name string) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: 画像データが空です", camera.ErrAssetMissing)
	}
	return l.store(ctx, filepath.Base(name), bytes.NewReader(data))
}

func (l *DirLibrary) store(ctx context.Context, name string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("%w: %v", camera.ErrAlbumInaccessible, err)
	}

	// 一時ファイルに書いてから置き換える
	tmp, err := os.CreateTemp(l.dir, ".import-*")
	if err != nil {
		return fmt.Errorf("%w: %v", camera.ErrAlbumInaccessible, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", camera.ErrAlbumInaccessible, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", camera.ErrAlbumInaccessible, err)
	}

	dst := filepath.Join(l.dir, name)
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", camera.ErrAlbumInaccessible, err)
	}

	l.log.Info("アルバムに追加しました", "path", dst)
	return nil
}

// MockLibrary はテスト用のLibrary実装
type MockLibrary struct {
	mu     sync.Mutex
	videos []string
	images []string
	err    error
}

// NewMockLibrary は新しいMockLibraryを作成する
func NewMockLibrary() *MockLibrary {
	return &MockLibrary{}
}

// AddVideo は登録を記録する
func (m *MockLibrary) AddVideo(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.videos = append(m.videos, path)
	return nil
}

// AddImage は登録を記録する
func (m *MockLibrary) AddImage(_ context.Context, _ []byte, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.images = append(m.images, name)
	return nil
}

// SetError は以降の登録を err で失敗させる
func (m *MockLibrary) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Videos は登録された動画のパス一覧を返す
func (m *MockLibrary) Videos() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.videos...)
}

// Images は登録された画像の名前一覧を返す
func (m *MockLibrary) Images() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.images...)
}
