package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"capturectl/internal/config"
	"capturectl/internal/controller"
	"capturectl/internal/metrics"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	controller *controller.Controller
	metrics    *metrics.Metrics
	log        *slog.Logger

	engine     *gin.Engine
	httpServer *http.Server
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, ctrl *controller.Controller, m *metrics.Metrics, log *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config:     cfg,
		controller: ctrl,
		metrics:    m,
		log:        log,
		engine:     gin.New(),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      s.engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	s.engine.Use(gin.Recovery(), requestID(), requestLogger(s.log), observeRequests(s.metrics))

	h := &handlers{controller: s.controller, config: s.config}

	// ヘルスチェック
	s.engine.GET("/health", h.health)

	// メトリクス
	s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler(func() {
		s.metrics.SetDevices(len(s.controller.Devices()))
	})))

	api := s.engine.Group("/api")
	api.GET("/status", h.status)
	api.GET("/devices", h.devices)
	api.POST("/devices/rescan", h.rescan)

	session := api.Group("/session")
	session.POST("/running", h.setRunning)
	session.POST("/mute", h.setMuted)
	session.POST("/quality", h.setQuality)
	session.POST("/camera", h.switchCamera)
	session.POST("/orientation", h.setOrientation)
	session.POST("/stabilization", h.setStabilization)

	device := api.Group("/device")
	device.POST("/focus", h.focus)
	device.POST("/zoom", h.zoom)
	device.POST("/torch", h.torch)
	device.POST("/monitoring", h.monitoring)

	rec := api.Group("/recording")
	rec.POST("/start", h.startRecording)
	rec.POST("/stop", h.stopRecording)

	api.POST("/photo", h.takePhoto)
	api.POST("/photo/bracket", h.takeBracket)

	g := api.Group("/gallery")
	g.GET("/photos", h.photos)
	g.GET("/videos", h.videos)
	g.GET("/:kind/:name/thumbnail", h.thumbnail)
}

// Start はサーバーを起動し、コンテキストの終了かシグナルを受けるまで待つ
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve は指定したリスナーでサーバーを動かす
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.log.Info("HTTPサーバーを起動しています", "address", listener.Addr().String())
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		s.log.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.log.Info("シグナルを受信しました", "signal", sig.String())
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.log.Info("サーバーをシャットダウンしています")

	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}
	if err := s.controller.Shutdown(ctx); err != nil {
		return fmt.Errorf("セッションの終了に失敗: %w", err)
	}

	s.log.Info("サーバーが正常にシャットダウンされました")
	return nil
}
