package guard

import (
	"fmt"
	"strings"

	"github.com/chillysbabybackribs/clawdia/internal/jsonutil"
)

const (
	ToolShellExec         = "shell_exec"
	ToolFileWrite         = "file_write"
	ToolFileEdit          = "file_edit"
	ToolActionExecutePlan = "action_execute_plan"
	ToolBrowserBatch      = "browser_batch"
	ToolBrowserInteract   = "browser_interact"

	browserToolPrefix = "browser_"
)

var sensitiveDomainFragments = []string{
	"bank", "paypal", "stripe", "coinbase", "gmail", "outlook", "protonmail",
	"mail.google", "aws", "console.cloud.google", "azure", "gov", "health",
	"med", "hospital",
}

// Classifier assigns a RiskLevel to a tool invocation. It is pure and safe
// for concurrent use.
type Classifier struct {
	redactor   *Redactor
	shellRules []shellRule
}

func NewClassifier(r *Redactor) *Classifier {
	if r == nil {
		r = defaultRedactor
	}
	return &Classifier{redactor: r, shellRules: defaultShellRules()}
}

var defaultClassifier = NewClassifier(nil)

// ClassifyAction classifies with the built-in redactor.
func ClassifyAction(tool string, input map[string]any) RiskClassification {
	return defaultClassifier.Classify(tool, input)
}

func (c *Classifier) Classify(tool string, input map[string]any) RiskClassification {
	switch {
	case tool == ToolShellExec:
		return c.classifyShell(inputString(input, "command"))
	case strings.HasPrefix(tool, browserToolPrefix):
		return c.classifyBrowser(tool, input)
	case tool == ToolFileWrite || tool == ToolFileEdit || tool == ToolActionExecutePlan:
		return RiskClassification{
			Risk:   RiskElevated,
			Reason: "file or plan modification: " + tool,
			Detail: c.writeDetail(input),
		}
	default:
		return RiskClassification{Risk: RiskSafe}
	}
}

func (c *Classifier) classifyShell(command string) RiskClassification {
	cmd := parseShellCommand(command)
	for _, rule := range c.shellRules {
		risk, reason, ok := rule.match(cmd)
		if !ok {
			continue
		}
		if risk == RiskSafe {
			return RiskClassification{Risk: RiskSafe}
		}
		return RiskClassification{Risk: risk, Reason: reason, Detail: c.redactor.CommandPreview(command)}
	}
	return RiskClassification{Risk: RiskSafe}
}

func (c *Classifier) classifyBrowser(tool string, input map[string]any) RiskClassification {
	rawURL := inputString(input, "url")
	lowerURL := strings.ToLower(rawURL)
	for _, frag := range sensitiveDomainFragments {
		if strings.Contains(lowerURL, frag) {
			return RiskClassification{
				Risk:   RiskSensitiveDomain,
				Reason: "sensitive domain: " + frag,
				Detail: c.redactor.URLPreview(rawURL),
			}
		}
	}
	if (tool == ToolBrowserBatch || tool == ToolBrowserInteract) && strings.TrimSpace(rawURL) != "" {
		serialized := strings.ToLower(serializeInput(input))
		if strings.Contains(serialized, "upload") || strings.Contains(serialized, "post") {
			return RiskClassification{
				Risk:   RiskExfil,
				Reason: "browser upload or form submission",
				Detail: c.redactor.URLPreview(rawURL),
			}
		}
	}
	return RiskClassification{Risk: RiskSafe}
}

func (c *Classifier) writeDetail(input map[string]any) string {
	if p := inputString(input, "path"); strings.TrimSpace(p) != "" {
		return c.redactor.preview(p, maxDetailPreview)
	}
	if len(input) == 0 {
		return ""
	}
	return c.redactor.preview(serializeInput(input), maxDetailPreview)
}

// inputString never fails: missing keys are "", non-strings are printed.
func inputString(input map[string]any, key string) string {
	v, ok := input[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func serializeInput(input map[string]any) string {
	if input == nil {
		return "{}"
	}
	b, err := jsonutil.Canonical(input)
	if err != nil {
		return fmt.Sprint(input)
	}
	return string(b)
}

// previewOf picks the command or URL preview for audit events.
func (c *Classifier) previewOf(tool string, input map[string]any) (command string, url string) {
	switch {
	case tool == ToolShellExec:
		return c.redactor.CommandPreview(inputString(input, "command")), ""
	case strings.HasPrefix(tool, browserToolPrefix):
		return "", c.redactor.URLPreview(inputString(input, "url"))
	default:
		return "", ""
	}
}
