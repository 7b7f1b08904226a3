package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"buybox-watcher/internal/app"
)

var (
	showLimit    int
	showUnviewed bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent buybox activity and notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:    showLimit,
			Unviewed: showUnviewed,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showUnviewed, "unviewed", false, "Claim and display only unviewed activity")
}
