package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"capturectl/internal/camera"
	"capturectl/internal/controller"
)

// NewCaptureCmd はセッションを構成して静止画を撮影するコマンドを作成する
func NewCaptureCmd(deps *Dependencies) *cobra.Command {
	var (
		bracket int
		flash   string
	)

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "静止画を撮影して保存する",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ctrl, err := deps.newController()
			if err != nil {
				return err
			}
			defer ctrl.Shutdown(ctx)

			if err := ctrl.Configure(ctx); err != nil {
				return fmt.Errorf("セッションの構成に失敗しました: %w", err)
			}

			var saved []controller.SavedPhoto
			if bracket > 0 {
				saved, err = ctrl.TakeBracket(ctx, bracket)
			} else {
				var p controller.SavedPhoto
				p, err = ctrl.TakePhoto(ctx, camera.FlashMode(flash))
				saved = append(saved, p)
			}
			if err != nil {
				return fmt.Errorf("撮影に失敗しました: %w", err)
			}

			for _, p := range saved {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%+.1fEV\t%d bytes\n", p.Path, p.ExposureBias, p.Size)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&bracket, "bracket", 0, "露出を変えて撮影する枚数 (0 なら通常撮影)")
	cmd.Flags().StringVar(&flash, "flash", "off", "フラッシュモード (off, on, auto)")

	return cmd
}
