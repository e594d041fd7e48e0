// Package logger は構造化ロガーを生成する
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New は設定に従った構造化ロガーを返す
//
// enabled が false の場合は何も出力しないロガーを返す。
// level: "debug", "info", "warn", "error"（既定は "info"）
// format: "json" または "text"（既定は "text"）
func New(enabled bool, level, format string) *slog.Logger {
	return NewWithWriter(os.Stderr, enabled, level, format)
}

// NewWithWriter は出力先を指定して構造化ロガーを返す
func NewWithWriter(w io.Writer, enabled bool, level, format string) *slog.Logger {
	if !enabled {
		return slog.New(slog.DiscardHandler)
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var h slog.Handler
	if strings.ToLower(format) == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	return slog.New(h)
}

// ParseLevel はログレベル文字列を slog.Level に変換する
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard は何も出力しないロガーを返す
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
