package main

import (
	"fmt"
	"sort"

	"github.com/chillysbabybackribs/clawdia/guard"
	"github.com/chillysbabybackribs/clawdia/internal/clifmt"
	"github.com/spf13/cobra"
)

func newOverridesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "overrides",
		Short: "Inspect and edit global \"always allow\" overrides",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List risk levels that are always allowed",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				rt, err := gateFromViper(cmd.Context(), loggerFromViper(cmd.ErrOrStderr()), nil)
				if err != nil {
					return err
				}
				defer rt.Close()

				m, err := rt.Gate.Overrides().Globals(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(m) == 0 {
					fmt.Fprintln(out, clifmt.Dim("no overrides"))
					return nil
				}
				for _, r := range sortedRisks(m) {
					fmt.Fprintln(out, clifmt.Risk(string(r)))
				}
				return nil
			},
		},
		overrideEditCmd("grant", "Always allow a risk level", func(rt *gateRuntime, cmd *cobra.Command, r guard.RiskLevel) error {
			return rt.Gate.GrantOverride(cmd.Context(), r, guard.SourceDesktop)
		}),
		overrideEditCmd("revoke", "Stop always allowing a risk level", func(rt *gateRuntime, cmd *cobra.Command, r guard.RiskLevel) error {
			return rt.Gate.RevokeOverride(cmd.Context(), r, guard.SourceDesktop)
		}),
	)
	return cmd
}

func overrideEditCmd(use, short string, apply func(*gateRuntime, *cobra.Command, guard.RiskLevel) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <risk>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			risk, err := guard.ParseRiskLevel(args[0])
			if err != nil {
				return err
			}
			if risk == guard.RiskSafe {
				return fmt.Errorf("SAFE never needs an override")
			}
			rt, err := gateFromViper(cmd.Context(), loggerFromViper(cmd.ErrOrStderr()), nil)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := apply(rt, cmd, risk); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), clifmt.Success(use+" "+string(risk)))
			return nil
		},
	}
}

func sortedRisks(m guard.AutonomyOverrides) []guard.RiskLevel {
	out := make([]guard.RiskLevel, 0, len(m))
	for r, ok := range m {
		if ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
