// Package server は、キャプチャ制御のHTTP APIを提供します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// リクエストの検証、エラーの応答への変換を担当します。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - リクエストボディの検証と Controller への受け渡し
//   - エラー種別に応じたステータスコードの選択
//   - リクエストログとメトリクスの記録
//
// 仕様:
//   - ルーティングは gin を使用
//   - メトリクスは /metrics で Prometheus 形式で公開
//   - グレースフルシャットダウンに対応
package server
