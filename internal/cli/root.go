// Package cli はコマンドラインのサブコマンドを定義する
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"capturectl/internal/config"
	"capturectl/internal/controller"
	"capturectl/internal/logger"
	"capturectl/internal/metrics"
)

// バージョン情報はビルド時に -ldflags で埋め込む
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Dependencies はサブコマンドが共有する依存関係
type Dependencies struct {
	ConfigPath string
	Config     *config.Config
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// NewRootCmd はルートコマンドを作成する
func NewRootCmd() *cobra.Command {
	deps := &Dependencies{}

	rootCmd := &cobra.Command{
		Use:           "capturectl",
		Short:         "カメラの構成・録画・撮影を制御する",
		Long:          "カメラセッションの構成変更を直列化し、録画と静止画撮影(ブラケット撮影を含む)をHTTP APIとコマンドから操作します。",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return deps.load()
		},
	}

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(fullVersion() + "\n")
	rootCmd.PersistentFlags().StringVarP(&deps.ConfigPath, "config", "c", "", "設定ファイル(YAML)のパス")

	rootCmd.AddCommand(NewServeCmd(deps))
	rootCmd.AddCommand(NewDevicesCmd(deps))
	rootCmd.AddCommand(NewCaptureCmd(deps))
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// load は設定を読み込み、ロガーとメトリクスを用意する
func (d *Dependencies) load() error {
	cfg, err := config.Load(d.ConfigPath)
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗しました: %w", err)
	}

	d.Config = cfg
	d.Logger = logger.New(cfg.Log.Enabled, cfg.Log.Level, cfg.Log.Format)
	d.Metrics = metrics.New()
	return nil
}

// newController は設定に従ってControllerを作成する
func (d *Dependencies) newController() (*controller.Controller, error) {
	return controller.New(d.Config, d.Logger, d.Metrics)
}

func fullVersion() string {
	return fmt.Sprintf("capturectl %s, commit %s, built at %s", Version, Commit, Date)
}

// NewVersionCmd はバージョン表示コマンドを作成する
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "バージョンを表示する",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), fullVersion())
		},
	}
}
