package cli

import (
	"github.com/spf13/cobra"

	"buybox-watcher/internal/app"
)

var simulatePayload string

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "模拟处理一条本地通知 payload",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{
			PayloadPath: simulatePayload,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulatePayload, "payload", "", "通知 payload 文件路径 (JSON)")
}
