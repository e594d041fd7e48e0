package camera

import "errors"

// SessionError はキャプチャセッションの状態に起因するエラー
type SessionError struct {
	reason string
}

func (e *SessionError) Error() string {
	return "セッションエラー: " + e.reason
}

// Reason はエラー理由を返す
func (e *SessionError) Reason() string { return e.reason }

// DeviceError はデバイス操作に起因するエラー
type DeviceError struct {
	reason string
}

func (e *DeviceError) Error() string {
	return "デバイスエラー: " + e.reason
}

// Reason はエラー理由を返す
func (e *DeviceError) Reason() string { return e.reason }

// AlbumError はメディアライブラリへの保存に起因するエラー
type AlbumError struct {
	reason string
}

func (e *AlbumError) Error() string {
	return "アルバムエラー: " + e.reason
}

// Reason はエラー理由を返す
func (e *AlbumError) Reason() string { return e.reason }

// FileError はファイル書き出しに起因するエラー
type FileError struct {
	reason string
}

func (e *FileError) Error() string {
	return "ファイルエラー: " + e.reason
}

// Reason はエラー理由を返す
func (e *FileError) Reason() string { return e.reason }

// セッションエラー
var (
	ErrNoConnection  = &SessionError{reason: "noConnection"}
	ErrNotRunning    = &SessionError{reason: "notRunning"}
	ErrNotConfigured = &SessionError{reason: "notConfigured"}
)

// デバイスエラー
var (
	ErrDeviceInvalid     = &DeviceError{reason: "invalid"}
	ErrUnableToSetInput  = &DeviceError{reason: "unableToSetInput"}
	ErrUnableToSetOutput = &DeviceError{reason: "unableToSetOutput"}
	ErrNotSupported      = &DeviceError{reason: "notSupported"}
	ErrDeviceBusy        = &DeviceError{reason: "busy"}
	ErrUnsupported       = &DeviceError{reason: "unsupported"}
)

// アルバムエラー
var (
	ErrAlbumInaccessible = &AlbumError{reason: "inaccessible"}
	ErrNotVideo          = &AlbumError{reason: "notVideo"}
	ErrAssetMissing      = &AlbumError{reason: "assetMissing"}
)

// ファイルエラー
var (
	ErrUnableToFlatten = &FileError{reason: "unableToFlatten"}
	ErrUnableToWrite   = &FileError{reason: "unableToWrite"}
)

// ErrTimeout は完了待ちが期限を過ぎたことを表す
var ErrTimeout = errors.New("タイムアウトしました")

// ErrNestedConfiguration は構成バッチが入れ子で開かれたことを表す
var ErrNestedConfiguration = errors.New("構成バッチが既に開かれています")

// ErrNotLocked は設定ロックを取得せずにデバイスを変更しようとしたことを表す
var ErrNotLocked = errors.New("デバイスの設定ロックが取得されていません")
