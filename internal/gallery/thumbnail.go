package gallery

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os/exec"
	"time"
)

// ThumbnailSize はサムネイルの長辺の最大ピクセル数
const ThumbnailSize = 160

// thumbnailQuality はサムネイルのJPEG品質
const thumbnailQuality = 70

// MakeThumbnail は画像データを長辺 maxSide 以下に縮小したJPEGを返す
//
// 元画像の幅と高さも返す。
func MakeThumbnail(data []byte, maxSide int) ([]byte, int, int, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("画像のデコードに失敗: %w", err)
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, 0, 0, fmt.Errorf("画像サイズが不正です: %dx%d", width, height)
	}

	tw, th := fitWithin(width, height, maxSide)
	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	drawScaled(dst, src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return nil, 0, 0, fmt.Errorf("JPEG エンコードに失敗: %w", err)
	}
	return buf.Bytes(), width, height, nil
}

// fitWithin は縦横比を保って長辺を maxSide 以下にした大きさを返す
func fitWithin(width, height, maxSide int) (int, int) {
	if maxSide <= 0 || (width <= maxSide && height <= maxSide) {
		return width, height
	}
	if width >= height {
		h := height * maxSide / width
		if h < 1 {
			h = 1
		}
		return maxSide, h
	}
	w := width * maxSide / height
	if w < 1 {
		w = 1
	}
	return w, maxSide
}

// drawScaled は dst 全体に src をニアレストネイバー法で描画する
func drawScaled(dst *image.RGBA, src image.Image) {
	srcBounds := src.Bounds()
	srcWidth := srcBounds.Dx()
	srcHeight := srcBounds.Dy()
	dstWidth := dst.Bounds().Dx()
	dstHeight := dst.Bounds().Dy()

	for y := 0; y < dstHeight; y++ {
		for x := 0; x < dstWidth; x++ {
			// ソース画像の対応する座標を計算
			srcX := x * srcWidth / dstWidth
			srcY := y * srcHeight / dstHeight
			dst.Set(x, y, src.At(srcBounds.Min.X+srcX, srcBounds.Min.Y+srcY))
		}
	}
}

// videoFrame は ffmpeg で動画の先頭フレームをJPEGとして取り出す
func videoFrame(path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx,
		"ffmpeg",
		"-v", "error",
		"-i", path,
		"-vframes", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"-",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("フレームの取り出しに失敗: %w (stderr: %s)", err, stderr.String())
	}
	return stdout.Bytes(), nil
}
