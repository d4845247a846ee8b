package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bnema/anvil/internal/input"
	"github.com/bnema/anvil/internal/logger"
	"github.com/bnema/anvil/internal/ui"
	"github.com/spf13/cobra"
)

var (
	injectDevice string
	injectFile   string
	injectSettle time.Duration
)

var injectCmd = &cobra.Command{
	Use:   "inject [step; step...]",
	Short: "Drive the native backend with virtual input devices",
	Long: `Create a virtual pointer and keyboard through uinput and play a script on
them. Steps come from the arguments, --file, or stdin when neither is given.

  move DX DY            relative pointer motion
  scroll DX DY          wheel clicks
  click|press|release   left, right or middle
  key|keydown|keyup     KEY_A or a numeric code
  sleep DURATION        e.g. 50ms

Steps are separated by newlines or ';'. Lines starting with # are ignored.
Requires write access to the uinput device.`,
	Example: `  anvil inject "move 100 0; click left; key KEY_A"
  anvil inject --file session.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		script, err := readScript(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		steps, err := input.ParseScript(script)
		if err != nil {
			return err
		}
		if len(steps) == 0 {
			return fmt.Errorf("no steps to inject")
		}

		in, err := input.NewInjector(injectDevice, "anvil-inject")
		if err != nil {
			return err
		}
		defer func() {
			if err := in.Close(); err != nil {
				logger.Warn("failed to remove virtual devices", "err", err)
			}
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// The compositor has to pick up the new devices before events are useful.
		select {
		case <-time.After(injectSettle):
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := in.Run(ctx, steps); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.FormatResult(true, fmt.Sprintf("injected %d steps", len(steps))))
		return nil
	},
}

func readScript(stdin io.Reader, args []string) (string, error) {
	switch {
	case injectFile != "":
		data, err := os.ReadFile(injectFile)
		if err != nil {
			return "", fmt.Errorf("failed to read script: %w", err)
		}
		return string(data), nil
	case len(args) > 0:
		return strings.Join(args, " "), nil
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read script from stdin: %w", err)
		}
		return string(data), nil
	}
}

func init() {
	injectCmd.Flags().StringVar(&injectDevice, "device", "/dev/uinput", "uinput device node")
	injectCmd.Flags().StringVarP(&injectFile, "file", "f", "", "read steps from a file")
	injectCmd.Flags().DurationVar(&injectSettle, "settle", 500*time.Millisecond, "wait after creating the devices")
	rootCmd.AddCommand(injectCmd)
}
