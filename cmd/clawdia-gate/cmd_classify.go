package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chillysbabybackribs/clawdia/guard"
	"github.com/chillysbabybackribs/clawdia/internal/clifmt"
	"github.com/spf13/cobra"
)

func newClassifyCmd() *cobra.Command {
	var (
		command string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "classify [tool] [json-input]",
		Short: "Classify a tool invocation without authorizing it",
		Example: `  clawdia-gate classify --command "curl https://example.com"
  clawdia-gate classify browser_navigate '{"url":"https://bank.example.com"}'`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tool, input, err := callFromArgs(args, command)
			if err != nil {
				return err
			}
			c := guard.NewClassifier(guard.NewRedactor(gateConfigFromViper().Redaction))
			cls := c.Classify(tool, input)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(cls)
			}
			fmt.Fprintf(out, "%s %s\n", clifmt.Key("risk:"), clifmt.Risk(string(cls.Risk)))
			if cls.Reason != "" {
				fmt.Fprintf(out, "%s %s\n", clifmt.Key("reason:"), cls.Reason)
			}
			if cls.Detail != "" {
				fmt.Fprintf(out, "%s %s\n", clifmt.Key("detail:"), clifmt.Dim(cls.Detail))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&command, "command", "", "shorthand for shell_exec with this command")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the classification as JSON")
	return cmd
}

// callFromArgs accepts either --command or "<tool> [json-object]".
func callFromArgs(args []string, command string) (string, map[string]any, error) {
	if strings.TrimSpace(command) != "" {
		if len(args) > 0 && args[0] != guard.ToolShellExec {
			return "", nil, fmt.Errorf("--command only applies to %s", guard.ToolShellExec)
		}
		return guard.ToolShellExec, map[string]any{"command": command}, nil
	}
	if len(args) == 0 {
		return "", nil, fmt.Errorf("missing tool name (or --command)")
	}
	tool := strings.TrimSpace(args[0])
	input := map[string]any{}
	if len(args) > 1 && strings.TrimSpace(args[1]) != "" {
		if err := json.Unmarshal([]byte(args[1]), &input); err != nil {
			return "", nil, fmt.Errorf("invalid json input: %w", err)
		}
	}
	return tool, input, nil
}
