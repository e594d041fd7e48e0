package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"capturectl/internal/server"
)

// NewServeCmd はHTTPサーバーを起動するコマンドを作成する
func NewServeCmd(deps *Dependencies) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "HTTP APIサーバーを起動する",
		RunE: func(cmd *cobra.Command, args []string) error {
			// コマンドラインオプションで設定を上書き
			if host != "" {
				deps.Config.Server.Host = host
			}
			if port != 0 {
				deps.Config.Server.Port = port
			}
			if err := deps.Config.Validate(); err != nil {
				return err
			}

			ctrl, err := deps.newController()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := ctrl.Configure(ctx); err != nil {
				ctrl.Shutdown(ctx)
				return fmt.Errorf("セッションの構成に失敗しました: %w", err)
			}

			srv := server.New(deps.Config, ctrl, deps.Metrics, deps.Logger)
			deps.Logger.Info("capturectl サーバーを起動します", "address", deps.Config.ServerAddress(), "backend", deps.Config.Camera.Backend)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
	cmd.Flags().IntVar(&port, "port", 0, "サーバーのポート (デフォルト: 8080)")

	return cmd
}
