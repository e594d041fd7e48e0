// Package camera キャプチャデバイスとキャプチャセッションの境界を担う
//
// # 責務
// - カメラ・マイクデバイスの抽象化（Device）
// - 共有キャプチャパイプライン（Session）の状態保持
// - 録画出力・写真出力とハードウェアコールバックの境界定義
// - デバイスの検出とバックグラウンド再スキャン（Registry）
// - エラー種別（SessionError / DeviceError / AlbumError / FileError / タイムアウト）
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - デバイスやセッションの型を参照したい
// - ハードウェア実装（virtual / v4l2）を差し替えたい
//
// Session の変更は tuning パッケージの ConfigurationQueue 経由でのみ行うこと。
// 録画・写真出力の操作は recording / photo パッケージのコーディネーター経由で行う。
//
// # 仕様
// - Virtual バックエンド: メモリ上のデバイスと出力。コールバックは別ゴルーチンで発火する
// - V4L2 バックエンド: v4l2-ctl によるコントロール設定と ffmpeg による録画・静止画取得
// - Thread-safe な操作をサポート
//
// # 前提要件（V4L2 バックエンド）
//   - v4l-utils: デバイス情報の取得とコントロール設定に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - ffmpeg: 録画と静止画キャプチャに使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
