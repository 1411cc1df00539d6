package guard

import (
	"regexp"
	"strings"
)

// shellCommand is a shell string split the ways the rules need it.
type shellCommand struct {
	raw   string
	lower string
	// head is the first token that is not a NAME=value assignment, lower-cased.
	head string
	// args are the lower-cased tokens after head.
	args []string
}

var reEnvAssignment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

func parseShellCommand(raw string) shellCommand {
	cmd := shellCommand{raw: raw, lower: strings.ToLower(raw)}
	fields := strings.Fields(raw)
	for i, f := range fields {
		if reEnvAssignment.MatchString(f) {
			continue
		}
		cmd.head = strings.ToLower(f)
		for _, a := range fields[i+1:] {
			cmd.args = append(cmd.args, strings.ToLower(a))
		}
		break
	}
	return cmd
}

// shellRule is one step of the shell cascade. Rules are evaluated in order
// and the first match decides.
type shellRule interface {
	name() string
	match(cmd shellCommand) (risk RiskLevel, reason string, ok bool)
}

func defaultShellRules() []shellRule {
	return []shellRule{
		newSensitivePathRule(),
		newExfilRule(),
		newElevatedPatternRule(),
		operatorRule{},
		newAllowlistRule(),
		newGitReadRule(),
		defaultRule{},
	}
}

// sensitivePathRule runs against the raw command. Matching is case
// sensitive, so "cat ~/.SSH/ID_RSA" does not hit it.
type sensitivePathRule struct {
	patterns []*regexp.Regexp
}

func newSensitivePathRule() sensitivePathRule {
	srcs := []string{
		`~/\.ssh\b`,
		`~/\.aws\b`,
		`~/\.gnupg\b`,
		`/\.ssh/`,
		`/\.aws/`,
		`/\.config/`,
		`Library/Application Support/(Google/Chrome|Firefox|BraveSoftware|Microsoft Edge)`,
		`\.mozilla/firefox`,
		`AppData[\\/](Local|Roaming)[\\/](Google|Mozilla|BraveSoftware|Microsoft)`,
		`\.env`,
		`credential`,
		`secret`,
		`token`,
		`api[_-]?key`,
		`password`,
		`\.pem`,
		`\.key`,
		`id_rsa`,
		`id_ed25519`,
		`id_ecdsa`,
		`known_hosts`,
		`authorized_keys`,
	}
	r := sensitivePathRule{patterns: make([]*regexp.Regexp, 0, len(srcs))}
	for _, s := range srcs {
		r.patterns = append(r.patterns, regexp.MustCompile(s))
	}
	return r
}

func (sensitivePathRule) name() string { return "sensitive_path" }

func (r sensitivePathRule) match(cmd shellCommand) (RiskLevel, string, bool) {
	for _, re := range r.patterns {
		if m := re.FindString(cmd.raw); m != "" {
			return RiskSensitiveRead, "sensitive path or credential access: " + m, true
		}
	}
	return "", "", false
}

type exfilRule struct {
	commands map[string]bool
}

func newExfilRule() exfilRule {
	return exfilRule{commands: setOf(
		"curl", "wget", "httpie", "nc", "ncat", "scp", "rsync", "ssh", "sftp", "ftp", "telnet",
	)}
}

func (exfilRule) name() string { return "exfil" }

func (r exfilRule) match(cmd shellCommand) (RiskLevel, string, bool) {
	if r.commands[cmd.head] {
		return RiskExfil, "network transfer command: " + cmd.head, true
	}
	if strings.Contains(cmd.lower, "upload") {
		return RiskExfil, "upload command", true
	}
	return "", "", false
}

type elevatedPatternRule struct {
	re *regexp.Regexp
}

func newElevatedPatternRule() elevatedPatternRule {
	words := []string{
		"sudo", "apt-get", "apt", "brew", "pip3", "pip", "npm", "yarn", "pnpm",
		"rm", "mv", "cp", "mkdir", "touch", "mkfs", "dd", "passwd", "chown", "chmod",
		"systemctl", "sysctl", "killall", "pkill", "kill", "reboot", "shutdown", "service",
		"umount", "mount", "fdisk", "parted", "iptables", "ufw",
	}
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		quoted = append(quoted, regexp.QuoteMeta(w))
	}
	return elevatedPatternRule{re: regexp.MustCompile(`\b(` + strings.Join(quoted, "|") + `)\b`)}
}

func (elevatedPatternRule) name() string { return "elevated_pattern" }

func (r elevatedPatternRule) match(cmd shellCommand) (RiskLevel, string, bool) {
	if m := r.re.FindString(cmd.lower); m != "" {
		return RiskElevated, "elevated or destructive command: " + m, true
	}
	return "", "", false
}

// operatorRule catches chaining, substitution and redirection. It runs
// before the allowlist so "ls | sh" is never SAFE.
type operatorRule struct{}

var shellOperators = []string{"&&", "||", ">>", "$(", "${", "|", ";", "&", "`", ">", "<"}

func (operatorRule) name() string { return "operator" }

func (operatorRule) match(cmd shellCommand) (RiskLevel, string, bool) {
	for _, op := range shellOperators {
		if strings.Contains(cmd.raw, op) {
			return RiskElevated, "shell chaining or redirection: " + op, true
		}
	}
	return "", "", false
}

type allowlistRule struct {
	commands map[string]bool
}

func newAllowlistRule() allowlistRule {
	return allowlistRule{commands: setOf(
		"ls", "pwd", "whoami", "date", "uname", "id", "echo", "cat", "head", "tail", "wc",
		"stat", "du", "file", "which", "type", "env", "printenv", "hostname", "uptime", "df",
		"free", "lsb_release", "arch", "nproc", "basename", "dirname", "realpath", "readlink", "tee",
	)}
}

func (allowlistRule) name() string { return "allowlist" }

func (r allowlistRule) match(cmd shellCommand) (RiskLevel, string, bool) {
	if r.commands[cmd.head] {
		return RiskSafe, "", true
	}
	if cmd.head == "find" {
		for _, flag := range []string{"-delete", "-exec", "-execdir"} {
			if strings.Contains(cmd.lower, flag) {
				return "", "", false
			}
		}
		return RiskSafe, "", true
	}
	return "", "", false
}

type gitReadRule struct {
	subcommands map[string]bool
}

func newGitReadRule() gitReadRule {
	return gitReadRule{subcommands: setOf(
		"status", "log", "diff", "branch", "show", "remote", "describe", "rev-parse",
		"ls-files", "ls-tree", "shortlog", "tag",
	)}
}

func (gitReadRule) name() string { return "git_read" }

func (r gitReadRule) match(cmd shellCommand) (RiskLevel, string, bool) {
	if cmd.head != "git" || len(cmd.args) == 0 {
		return "", "", false
	}
	sub := cmd.args[0]
	if r.subcommands[sub] {
		return RiskSafe, "", true
	}
	if sub == "stash" && len(cmd.args) > 1 && cmd.args[1] == "list" {
		return RiskSafe, "", true
	}
	return "", "", false
}

type defaultRule struct{}

func (defaultRule) name() string { return "default" }

func (defaultRule) match(shellCommand) (RiskLevel, string, bool) {
	return RiskElevated, "unrecognized command", true
}

func setOf(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}
