// Package gallery は撮影済みの写真と動画の一覧をサムネイル付きで提供する
package gallery

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"capturectl/internal/album"
	"capturectl/internal/filecache"
	"capturectl/internal/metrics"
)

// Kind はメディアの種類
type Kind string

const (
	KindPhoto Kind = "photo"
	KindVideo Kind = "video"
)

// Item はギャラリーの1項目
type Item struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Kind      Kind      `json:"kind"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	Thumbnail []byte    `json:"-"`
}

// preview はファイルごとにキャッシュする派生データ
type preview struct {
	thumbnail []byte
	width     int
	height    int
}

// Options はギャラリーの設定
type Options struct {
	CacheEnabled    bool
	VideoThumbnails bool // ffmpeg で動画のサムネイルを作る
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
}

// Gallery は写真と動画のディレクトリをそれぞれ FileCache で保持する
type Gallery struct {
	photos *filecache.Cache[preview]
	videos *filecache.Cache[preview]
	log    *slog.Logger
}

// New は新しいGalleryを作成する
func New(photoDir, videoDir string, opts Options) *Gallery {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	g := &Gallery{log: log}
	g.photos = filecache.New(photoDir, g.photoPreview, filecache.Options{
		Enabled: opts.CacheEnabled,
		Filter:  isPhoto,
		Name:    "photos",
		Logger:  log,
		Metrics: opts.Metrics,
	})

	videoPreview := func(string) (preview, error) { return preview{}, nil }
	if opts.VideoThumbnails {
		videoPreview = g.videoPreview
	}
	g.videos = filecache.New(videoDir, videoPreview, filecache.Options{
		Enabled: opts.CacheEnabled,
		Filter:  album.IsVideo,
		Name:    "videos",
		Logger:  log,
		Metrics: opts.Metrics,
	})
	return g
}

func isPhoto(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	default:
		return false
	}
}

func (g *Gallery) photoPreview(path string) (preview, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return preview{}, err
	}
	thumb, w, h, err := MakeThumbnail(data, ThumbnailSize)
	if err != nil {
		return preview{}, err
	}
	return preview{thumbnail: thumb, width: w, height: h}, nil
}

// videoPreview はサムネイルが作れなくても項目としては残す
func (g *Gallery) videoPreview(path string) (preview, error) {
	frame, err := videoFrame(path)
	if err != nil {
		g.log.Debug("動画のサムネイルを作成できません", "path", path, "error", err)
		return preview{}, nil
	}
	thumb, w, h, err := MakeThumbnail(frame, ThumbnailSize)
	if err != nil {
		g.log.Debug("動画のサムネイルを作成できません", "path", path, "error", err)
		return preview{}, nil
	}
	return preview{thumbnail: thumb, width: w, height: h}, nil
}

// Photos は新しい順に写真を返す。limit が 0 なら全件
func (g *Gallery) Photos(limit int) []Item {
	return toItems(g.photos.Fetch(limit), KindPhoto)
}

// Videos は新しい順に動画を返す。limit が 0 なら全件
func (g *Gallery) Videos(limit int) []Item {
	return toItems(g.videos.Fetch(limit), KindVideo)
}

// Thumbnail は名前で指定した項目のサムネイルを返す
func (g *Gallery) Thumbnail(kind Kind, name string) ([]byte, bool) {
	var items []Item
	switch kind {
	case KindPhoto:
		items = g.Photos(0)
	case KindVideo:
		items = g.Videos(0)
	default:
		return nil, false
	}

	for _, item := range items {
		if item.Name == name && len(item.Thumbnail) > 0 {
			return item.Thumbnail, true
		}
	}
	return nil, false
}

// Renew は両方のキャッシュを差分更新する
func (g *Gallery) Renew() {
	g.photos.Renew()
	g.videos.Renew()
}

// Invalidate は両方のキャッシュを破棄する
func (g *Gallery) Invalidate() {
	g.photos.Invalidate()
	g.videos.Invalidate()
}

func toItems(entries []filecache.Entry[preview], kind Kind) []Item {
	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		items = append(items, Item{
			Name:      filepath.Base(e.Path),
			Path:      e.Path,
			Kind:      kind,
			Size:      e.Size,
			CreatedAt: e.Created,
			Width:     e.Value.width,
			Height:    e.Value.height,
			Thumbnail: e.Value.thumbnail,
		})
	}
	return items
}
