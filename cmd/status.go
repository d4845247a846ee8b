package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/bnema/anvil/internal/ipc"
	"github.com/bnema/anvil/internal/ui"
	"github.com/spf13/cobra"
)

var (
	statusWatch    bool
	statusInterval time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the running compositor",
	Long: `Show outputs with their frame statistics, mapped surfaces, focus and input
devices of the running compositor. With --watch the view refreshes until q
is pressed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := controlClient()
		if err != nil {
			return err
		}
		if statusWatch {
			return ui.RunStatus(client, statusInterval)
		}

		st, err := client.Status()
		if errors.Is(err, ipc.ErrNotRunning) {
			fmt.Fprintln(cmd.OutOrStdout(), ui.FormatRunning(false, "anvil is not running"))
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderStatus(st))
		return nil
	},
}

var quitCmd = &cobra.Command{
	Use:   "quit",
	Short: "Ask the running compositor to shut down",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := controlClient()
		if err != nil {
			return err
		}
		if err := client.Quit(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.FormatResult(true, "compositor is shutting down"))
		return nil
	},
}

var overlayCmd = &cobra.Command{
	Use:   "overlay",
	Short: "Toggle the FPS overlay of the running compositor",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := controlClient()
		if err != nil {
			return err
		}
		if err := client.ToggleOverlay(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.FormatResult(true, "overlay toggled"))
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "keep refreshing the status")
	statusCmd.Flags().DurationVar(&statusInterval, "interval", time.Second, "refresh interval for --watch")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(quitCmd)
	rootCmd.AddCommand(overlayCmd)
}
