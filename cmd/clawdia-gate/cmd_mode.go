package main

import (
	"fmt"

	"github.com/chillysbabybackribs/clawdia/guard"
	"github.com/chillysbabybackribs/clawdia/internal/clifmt"
	"github.com/spf13/cobra"
)

func newModeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mode [get|set <mode>]",
		Short: "Show or change the autonomy mode (safe, guided, unrestricted)",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := gateFromViper(ctx, loggerFromViper(cmd.ErrOrStderr()), nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 || args[0] == "get" {
				mode, err := rt.Gate.Mode(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, mode)
				return nil
			}
			if args[0] != "set" || len(args) != 2 {
				return fmt.Errorf("usage: mode [get|set <mode>]")
			}
			mode, err := guard.ParseAutonomyMode(args[1])
			if err != nil {
				return err
			}
			if err := rt.Gate.SetMode(ctx, mode); err != nil {
				return err
			}
			fmt.Fprintln(out, clifmt.Success("autonomy mode set to "+string(mode)))
			return nil
		},
	}
	return cmd
}
