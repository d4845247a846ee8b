package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bnema/anvil/internal/ipc"
	"github.com/bnema/anvil/internal/ui"
	"github.com/spf13/cobra"
)

var surfaceCmd = &cobra.Command{
	Use:   "surface",
	Short: "Manage debug surfaces on the running compositor",
	Long: `Debug surfaces are solid colour toplevels created over the control socket.
They take part in stacking, focus and damage like client surfaces.`,
}

var (
	surfaceTitle string
	surfaceColor string
)

var surfaceAddCmd = &cobra.Command{
	Use:   "add <x> <y> <width> <height>",
	Short: "Map a solid colour surface",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		geom, err := parseGeometry(args)
		if err != nil {
			return err
		}
		rgba, err := parseRGBA(surfaceColor)
		if err != nil {
			return err
		}

		client, err := controlClient()
		if err != nil {
			return err
		}
		h, err := client.AddSurface(surfaceTitle, geom.X, geom.Y, geom.Width, geom.Height, rgba)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.FormatResult(true, fmt.Sprintf("surface %#x mapped", h)))
		return nil
	},
}

var surfaceRemoveCmd = &cobra.Command{
	Use:   "remove <handle>",
	Short: "Destroy a debug surface",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := strconv.ParseUint(args[0], 0, 64)
		if err != nil {
			return fmt.Errorf("invalid handle %q: %w", args[0], err)
		}
		client, err := controlClient()
		if err != nil {
			return err
		}
		if err := client.RemoveSurface(h); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.FormatResult(true, fmt.Sprintf("surface %#x removed", h)))
		return nil
	},
}

var surfaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List surfaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := controlClient()
		if err != nil {
			return err
		}
		st, err := client.Status()
		if err != nil {
			return err
		}
		if len(st.Surfaces) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), ui.MutedStyle.Render("no surfaces"))
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.SurfaceTable(st.Surfaces))
		return nil
	},
}

// parseGeometry reads x, y, width and height and checks them the way the
// compositor will.
func parseGeometry(args []string) (*ipc.Request, error) {
	var geom [4]int32
	for i, a := range args {
		v, err := strconv.ParseInt(a, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid geometry %q: %w", a, err)
		}
		geom[i] = int32(v)
	}
	req := &ipc.Request{Op: ipc.OpAddSurface, X: geom[0], Y: geom[1], Width: geom[2], Height: geom[3]}
	if _, err := req.SurfaceRect(); err != nil {
		return nil, err
	}
	return req, nil
}

// parseRGBA accepts #rrggbb or #rrggbbaa.
func parseRGBA(s string) (uint32, error) {
	hex := strings.TrimPrefix(s, "#")
	switch len(hex) {
	case 6:
		hex += "ff"
	case 8:
	default:
		return 0, fmt.Errorf("invalid colour %q, want #rrggbb or #rrggbbaa", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return uint32(v), nil
}

func init() {
	surfaceAddCmd.Flags().StringVarP(&surfaceTitle, "title", "t", "debug", "surface title")
	surfaceAddCmd.Flags().StringVarP(&surfaceColor, "color", "c", "#3366cc", "fill colour, #rrggbb or #rrggbbaa")

	surfaceCmd.AddCommand(surfaceAddCmd)
	surfaceCmd.AddCommand(surfaceRemoveCmd)
	surfaceCmd.AddCommand(surfaceListCmd)
	rootCmd.AddCommand(surfaceCmd)
}
