package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"capturectl/internal/camera"
	"capturectl/internal/config"
	"capturectl/internal/controller"
	"capturectl/internal/gallery"
	"capturectl/internal/tuning"
)

// handlers は各エンドポイントの実装
type handlers struct {
	controller *controller.Controller
	config     *config.Config
}

// ErrorResponse はエラー時の応答
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// リクエストボディ

type runningRequest struct {
	Running *bool `json:"running" binding:"required"`
}

type muteRequest struct {
	Muted *bool `json:"muted" binding:"required"`
}

type qualityRequest struct {
	Preset string `json:"preset" binding:"required"`
}

type cameraRequest struct {
	Position string `json:"position" binding:"required,oneof=front back"`
	Type     string `json:"type" binding:"omitempty,oneof=wide_angle ultra_wide telephoto external"`
}

type orientationRequest struct {
	Orientation string `json:"orientation" binding:"required,oneof=portrait portrait_upside_down landscape_left landscape_right"`
}

type stabilizationRequest struct {
	Mode string `json:"mode" binding:"required,oneof=off standard cinematic auto"`
}

type pointRequest struct {
	X float64 `json:"x" binding:"min=0,max=1"`
	Y float64 `json:"y" binding:"min=0,max=1"`
}

type focusRequest struct {
	Mode  string        `json:"mode" binding:"required,oneof=locked auto continuous"`
	Point *pointRequest `json:"point"`
}

type zoomRequest struct {
	Factor float64 `json:"factor" binding:"required,gt=0"`
}

type torchRequest struct {
	Mode  string  `json:"mode" binding:"required,oneof=off on auto"`
	Level float64 `json:"level" binding:"min=0,max=1"`
}

type monitoringRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type photoRequest struct {
	Flash string `json:"flash" binding:"omitempty,oneof=off on auto"`
}

type bracketRequest struct {
	Count int `json:"count"`
}

// health はヘルスチェックエンドポイントの実装
func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// status はセッション状態取得エンドポイントの実装
func (h *handlers) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"session": h.controller.Status(),
		"server": gin.H{
			"host": h.config.Server.Host,
			"port": h.config.Server.Port,
		},
		"backend":   h.config.Camera.Backend,
		"timestamp": time.Now(),
	})
}

// devices はデバイス一覧取得エンドポイントの実装
func (h *handlers) devices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"devices": h.controller.Devices()})
}

func (h *handlers) rescan(c *gin.Context) {
	if err := h.controller.Rescan(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": h.controller.Devices()})
}

func (h *handlers) setRunning(c *gin.Context) {
	var req runningRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c, h.controller.SetRunning(c.Request.Context(), *req.Running))
}

func (h *handlers) setMuted(c *gin.Context) {
	var req muteRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c, h.controller.SetMuted(c.Request.Context(), *req.Muted))
}

func (h *handlers) setQuality(c *gin.Context) {
	var req qualityRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c, h.controller.SetQuality(c.Request.Context(), camera.Preset(req.Preset)))
}

func (h *handlers) switchCamera(c *gin.Context) {
	var req cameraRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c, h.controller.SwitchCamera(c.Request.Context(), camera.Position(req.Position), camera.DeviceType(req.Type)))
}

func (h *handlers) setOrientation(c *gin.Context) {
	var req orientationRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c, h.controller.SetOrientation(c.Request.Context(), camera.Orientation(req.Orientation)))
}

func (h *handlers) setStabilization(c *gin.Context) {
	var req stabilizationRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c, h.controller.SetStabilization(c.Request.Context(), camera.StabilizationMode(req.Mode)))
}

func (h *handlers) focus(c *gin.Context) {
	var req focusRequest
	if !bind(c, &req) {
		return
	}

	var point *camera.Point
	if req.Point != nil {
		point = &camera.Point{X: req.Point.X, Y: req.Point.Y}
	}
	h.respond(c, h.controller.Focus(c.Request.Context(), camera.FocusMode(req.Mode), point))
}

func (h *handlers) zoom(c *gin.Context) {
	var req zoomRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c, h.controller.Zoom(c.Request.Context(), req.Factor))
}

func (h *handlers) torch(c *gin.Context) {
	var req torchRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c, h.controller.Torch(c.Request.Context(), camera.TorchMode(req.Mode), req.Level))
}

func (h *handlers) monitoring(c *gin.Context) {
	var req monitoringRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c, h.controller.SetSubjectMonitoring(c.Request.Context(), *req.Enabled))
}

func (h *handlers) startRecording(c *gin.Context) {
	path, err := h.controller.StartRecording(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}

func (h *handlers) stopRecording(c *gin.Context) {
	path, err := h.controller.StopRecording(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}

func (h *handlers) takePhoto(c *gin.Context) {
	var req photoRequest
	// ボディは省略可能
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}

	saved, err := h.controller.TakePhoto(c.Request.Context(), camera.FlashMode(req.Flash))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (h *handlers) takeBracket(c *gin.Context) {
	var req bracketRequest
	if !bind(c, &req) {
		return
	}

	saved, err := h.controller.TakeBracket(c.Request.Context(), req.Count)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"photos": saved})
}

func (h *handlers) photos(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": h.controller.Photos(limit)})
}

func (h *handlers) videos(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": h.controller.Videos(limit)})
}

func (h *handlers) thumbnail(c *gin.Context) {
	kind := gallery.Kind(c.Param("kind"))
	if kind != gallery.KindPhoto && kind != gallery.KindVideo {
		writeJSONError(c, http.StatusNotFound, "not_found", "未知の種別です")
		return
	}

	data, ok := h.controller.Thumbnail(kind, c.Param("name"))
	if !ok {
		writeJSONError(c, http.StatusNotFound, "not_found", "サムネイルが見つかりません")
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

// ヘルパー関数

// respond は結果のない操作の応答を返す
func (h *handlers) respond(c *gin.Context, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": h.controller.Status()})
}

// bind はリクエストボディを読み込んで検証する。失敗時は応答済み
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		_ = c.Error(err)
		writeJSONError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeJSONError(c, http.StatusBadRequest, "invalid_request", "limit は0以上の整数で指定してください")
		return 0, false
	}
	return limit, true
}

// writeError はエラー種別に応じたステータスでエラーを返す
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	status, code := classify(err)
	writeJSONError(c, status, code, err.Error())
}

func writeJSONError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// classify はエラーをHTTPステータスとエラーコードに変換する
func classify(err error) (int, string) {
	if errors.Is(err, camera.ErrTimeout) {
		return http.StatusGatewayTimeout, "timeout"
	}
	if errors.Is(err, tuning.ErrQueueClosed) {
		return http.StatusServiceUnavailable, "closed"
	}

	var sessionErr *camera.SessionError
	if errors.As(err, &sessionErr) {
		switch sessionErr {
		case camera.ErrNoConnection:
			return http.StatusConflict, sessionErr.Reason()
		default:
			return http.StatusServiceUnavailable, sessionErr.Reason()
		}
	}

	var deviceErr *camera.DeviceError
	if errors.As(err, &deviceErr) {
		switch deviceErr {
		case camera.ErrNotSupported, camera.ErrUnsupported:
			return http.StatusBadRequest, deviceErr.Reason()
		case camera.ErrDeviceBusy:
			return http.StatusConflict, deviceErr.Reason()
		case camera.ErrDeviceInvalid:
			return http.StatusNotFound, deviceErr.Reason()
		default:
			return http.StatusInternalServerError, deviceErr.Reason()
		}
	}

	var albumErr *camera.AlbumError
	if errors.As(err, &albumErr) {
		return http.StatusInternalServerError, albumErr.Reason()
	}
	var fileErr *camera.FileError
	if errors.As(err, &fileErr) {
		return http.StatusInternalServerError, fileErr.Reason()
	}

	return http.StatusInternalServerError, "internal"
}
