package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"capturectl/internal/tuning"
)

// NewDevicesCmd は検出済みデバイスを一覧表示するコマンドを作成する
func NewDevicesCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "検出されたカメラデバイスを表示する",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := deps.newController()
			if err != nil {
				return err
			}
			defer ctrl.Shutdown(cmd.Context())

			if err := ctrl.Rescan(cmd.Context()); err != nil {
				return fmt.Errorf("デバイスの検出に失敗しました: %w", err)
			}

			devices := ctrl.Devices()
			if len(devices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "デバイスが見つかりません")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPOSITION\tTYPE\tTORCH\tMAX")
			for _, info := range devices {
				largest := tuning.MaxResolution(info)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%dx%d\n",
					info.ID, info.Name, info.Position, info.Type,
					yesNo(info.HasTorch), largest.Width, largest.Height)
			}
			return w.Flush()
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}
