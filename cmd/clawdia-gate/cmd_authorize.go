package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/chillysbabybackribs/clawdia/guard"
	"github.com/chillysbabybackribs/clawdia/internal/clifmt"
	"github.com/spf13/cobra"
)

func newAuthorizeCmd() *cobra.Command {
	var (
		command  string
		taskID   string
		mode     string
		decision string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "authorize [tool] [json-input]",
		Short: "Run one tool invocation through the gate, prompting for approval if needed",
		Long: `Classifies the invocation, applies the autonomy mode and any overrides, and
asks on the terminal when a human decision is required. Exits non-zero when
the call is denied.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tool, input, err := callFromArgs(args, command)
			if err != nil {
				return err
			}

			var fixed guard.ApprovalDecision
			if strings.TrimSpace(decision) != "" {
				fixed, err = guard.ParseApprovalDecision(decision)
				if err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			log := loggerFromViper(cmd.ErrOrStderr())

			var pending *guard.PendingApprovals
			prompter := &terminalPrompter{in: cmd.InOrStdin(), out: cmd.ErrOrStderr()}
			notify := func(req guard.ApprovalRequest) {
				d, src := fixed, guard.SourceAuto
				if d == "" {
					d, src = prompter.Ask(req), guard.SourceDesktop
				}
				if err := pending.Resolve(context.Background(), req.RequestID, d, src); err != nil && !errors.Is(err, guard.ErrAlreadyResolved) {
					log.Warn("gate_prompt_resolve_error", "request_id", req.RequestID, "error", err.Error())
				}
			}

			rt, err := gateFromViper(ctx, log, notify)
			if err != nil {
				return err
			}
			defer rt.Close()
			pending = rt.Pending

			call := guard.Call{Tool: tool, Input: input, TaskID: strings.TrimSpace(taskID)}
			var res guard.Result
			if strings.TrimSpace(mode) != "" {
				m, err := guard.ParseAutonomyMode(mode)
				if err != nil {
					return err
				}
				res, err = rt.Gate.AuthorizeInMode(ctx, m, call, rt.Pending.Request)
				if err != nil {
					return err
				}
			} else {
				res, err = rt.Gate.Authorize(ctx, call, rt.Pending.Request)
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else if res.Allowed {
				scope := string(res.Scope)
				if scope == "" {
					scope = "once"
				}
				fmt.Fprintf(out, "%s %s (scope: %s)\n", clifmt.Success("allowed"), clifmt.Risk(string(res.Risk)), scope)
			} else {
				fmt.Fprintf(out, "%s %s\n", clifmt.Error("denied"), res.Error)
			}
			return res.Err()
		},
	}
	cmd.Flags().StringVar(&command, "command", "", "shorthand for shell_exec with this command")
	cmd.Flags().StringVar(&taskID, "task", "", "task (conversation) id for task-scoped approvals")
	cmd.Flags().StringVar(&mode, "mode", "", "override the persisted autonomy mode for this call")
	cmd.Flags().StringVar(&decision, "decision", "", "answer any approval with this decision instead of prompting (APPROVE, TASK, ALWAYS, DENY)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

// terminalPrompter asks a human on a line-oriented terminal.
type terminalPrompter struct {
	in  io.Reader
	out io.Writer

	once   sync.Once
	reader *bufio.Reader
}

// Ask blocks until a valid choice is read. EOF or a read error is a deny.
func (p *terminalPrompter) Ask(req guard.ApprovalRequest) guard.ApprovalDecision {
	p.once.Do(func() { p.reader = bufio.NewReader(p.in) })

	sep := strings.Repeat("=", 60)
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, clifmt.Dim(sep))
	fmt.Fprintf(p.out, "%s %s %s\n", clifmt.Headerf("Approval required:"), req.Tool, clifmt.Risk(string(req.Risk)))
	if req.Reason != "" {
		fmt.Fprintf(p.out, "%s %s\n", clifmt.Key("reason:"), req.Reason)
	}
	if req.Detail != "" {
		fmt.Fprintf(p.out, "%s %s\n", clifmt.Key("detail:"), req.Detail)
	}
	if req.TaskID != "" {
		fmt.Fprintf(p.out, "%s %s\n", clifmt.Key("task:"), req.TaskID)
	}
	if !req.ExpiresAt.IsZero() {
		fmt.Fprintf(p.out, "%s %s\n", clifmt.Key("expires:"), req.ExpiresAt.Local().Format(time.Kitchen))
	}
	fmt.Fprintln(p.out, clifmt.Dim(sep))

	for {
		fmt.Fprintln(p.out, "  [y] approve once")
		fmt.Fprintln(p.out, "  [t] approve for this task")
		fmt.Fprintln(p.out, "  [a] always allow "+string(req.Risk))
		fmt.Fprintln(p.out, "  [n] deny")
		fmt.Fprint(p.out, clifmt.Key("Choice: "))

		line, err := p.reader.ReadString('\n')
		if err != nil && strings.TrimSpace(line) == "" {
			fmt.Fprintln(p.out)
			return guard.DecisionDeny
		}
		if d, ok := parseChoice(line); ok {
			return d
		}
		fmt.Fprintln(p.out, clifmt.Warn("Invalid choice. Please enter y, t, a or n."))
	}
}

func parseChoice(s string) (guard.ApprovalDecision, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "approve":
		return guard.DecisionApprove, true
	case "t", "task":
		return guard.DecisionTask, true
	case "a", "always":
		return guard.DecisionAlways, true
	case "n", "no", "deny", "":
		return guard.DecisionDeny, true
	default:
		return "", false
	}
}
