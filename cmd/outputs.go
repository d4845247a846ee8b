package cmd

import (
	"fmt"
	"strings"

	"github.com/bnema/anvil/internal/backend/native"
	"github.com/bnema/anvil/internal/config"
	"github.com/bnema/anvil/internal/ipc"
	"github.com/bnema/anvil/internal/ui"
	"github.com/spf13/cobra"
	"gitlab.com/mstarongitlab/goutils/sliceutils"
)

var (
	outputsDRM    bool
	outputsAll    bool
	outputsActive bool
)

var outputsCmd = &cobra.Command{
	Use:   "outputs",
	Short: "List outputs",
	Long: `List the outputs of the running compositor. With --drm the DRM connectors
of this machine are listed instead, as the native backend would see them;
only connected ones unless --all is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if outputsDRM {
			return listConnectors(cmd)
		}

		client, err := controlClient()
		if err != nil {
			return err
		}
		st, err := client.Status()
		if err != nil {
			return err
		}
		outputs := st.Outputs
		if outputsActive {
			outputs = activeOutputs(outputs)
		}
		if len(outputs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), ui.MutedStyle.Render("no outputs"))
			return nil
		}

		fmt.Fprintln(cmd.OutOrStdout(), ui.OutputTable(outputs))
		return nil
	},
}

// activeOutputs keeps outputs that are not suspended.
func activeOutputs(outputs []ipc.OutputStatus) []ipc.OutputStatus {
	return sliceutils.Filter(outputs, func(o ipc.OutputStatus) bool {
		return o.State != "suspended"
	})
}

// visibleConnectors keeps connected connectors unless all is set.
func visibleConnectors(conns []native.ConnectorInfo, all bool) []native.ConnectorInfo {
	if all {
		return conns
	}
	return sliceutils.Filter(conns, func(c native.ConnectorInfo) bool {
		return c.Connected
	})
}

func listConnectors(cmd *cobra.Command) error {
	conns, err := native.Connectors(config.Get().Native.DRMPath)
	if err != nil {
		return err
	}
	conns = visibleConnectors(conns, outputsAll)

	out := cmd.OutOrStdout()
	if len(conns) == 0 {
		fmt.Fprintln(out, ui.MutedStyle.Render("no connected DRM connectors"))
		return nil
	}
	for _, c := range conns {
		status := ui.FormatRunning(c.Connected, fmt.Sprintf("%s %s", c.Card, ui.BoldStyle.Render(c.Name)))
		fmt.Fprintln(out, status)
		if c.PhysMM[0] > 0 {
			fmt.Fprintf(out, "    size %dx%d mm\n", c.PhysMM[0], c.PhysMM[1])
		}
		if len(c.Modes) > 0 {
			fmt.Fprintf(out, "    modes %s\n", ui.SubtleStyle.Render(strings.Join(c.Modes, " ")))
		}
	}
	return nil
}

func init() {
	outputsCmd.Flags().BoolVar(&outputsDRM, "drm", false, "list DRM connectors instead of compositor outputs")
	outputsCmd.Flags().BoolVar(&outputsAll, "all", false, "with --drm, include disconnected connectors")
	outputsCmd.Flags().BoolVar(&outputsActive, "active", false, "hide suspended outputs")
	rootCmd.AddCommand(outputsCmd)
}
