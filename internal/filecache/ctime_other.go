//go:build !linux

package filecache

import (
	"io/fs"
	"time"
)

// creationTime は更新日時を作成日時の代わりに返す
func creationTime(_ string, info fs.FileInfo) time.Time {
	return info.ModTime()
}
