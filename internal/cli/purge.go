package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var purgeConfirm bool

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Empty the notification queue (test environments only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !purgeConfirm {
			return errors.New("refusing to purge without --yes")
		}
		return getApp().Purge(cmd.Context())
	},
}

func init() {
	purgeCmd.Flags().BoolVar(&purgeConfirm, "yes", false, "Confirm purging every message on the queue")
}
