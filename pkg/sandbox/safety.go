package sandbox

import (
	"regexp"
	"strings"
)

// SafetyLevel is the classification of a shell command.
type SafetyLevel string

const (
	SafetySafe    SafetyLevel = "safe"
	SafetyReview  SafetyLevel = "review"
	SafetyBlocked SafetyLevel = "blocked"
)

// Tier selects how strictly commands are judged for a model.
type Tier string

const (
	TierStandard Tier = "standard"
	// TierStrict applies to small and local models.
	TierStrict Tier = "strict"
)

// Verdict is the result of ClassifyCommand.
type Verdict struct {
	Level  SafetyLevel `json:"level"`
	Tier   Tier        `json:"tier"`
	Reason string      `json:"reason,omitempty"`
}

type commandRule struct {
	pattern *regexp.Regexp
	reason  string
}

func rule(pattern, reason string) commandRule {
	return commandRule{pattern: regexp.MustCompile(pattern), reason: reason}
}

var blockedRules = []commandRule{
	rule(`\brm\s+(-[a-zA-Z]*\s+)*-[a-zA-Z]*[rR][a-zA-Z]*\s+(-[a-zA-Z]*\s+)*(/|~|\*|\$HOME)/?\*?(\s|$)`, "recursive delete of a root, home or wildcard"),
	rule(`\bmkfs(\.\w+)?\b`, "filesystem formatting"),
	rule(`\bdd\s+.*\bof=/dev/`, "raw device write"),
	rule(`>\s*/dev/(sd|nvme|hd|disk)`, "raw device write"),
	rule(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`, "fork bomb"),
	rule(`\b(shutdown|reboot|halt|poweroff)\b`, "host power control"),
	rule(`\bsudo\b|\bsu\s+-`, "privilege escalation"),
	rule(`\b(curl|wget)\b[^|]*\|\s*(ba|z|)sh\b`, "piping a download into a shell"),
	rule(`\bchmod\s+(-R\s+)?[0-7]*777\s+/(\s|$)`, "world-writable root"),
	rule(`\bgit\s+push\b.*(--force|-f)\b.*\b(main|master)\b`, "force push to a protected branch"),
}

var reviewRules = []commandRule{
	rule(`\brm\s+(-[a-zA-Z]*\s+)*-[a-zA-Z]*[rRf]`, "forced or recursive delete"),
	rule(`\bgit\s+(push|reset\s+--hard|clean\s+-[a-zA-Z]*f|checkout\s+--\s|rebase|branch\s+-D)`, "history-changing git operation"),
	rule(`\b(chmod|chown|chgrp)\b`, "permission change"),
	rule(`\b(kill|pkill|killall)\b`, "process termination"),
	rule(`\b(curl|wget|scp|rsync|ssh|nc)\b`, "network access"),
	rule(`\b(npm|yarn|pnpm)\s+(publish|install\s+-g|i\s+-g)`, "global package or publish"),
	rule(`\b(pip3?|gem|apt(-get)?|brew|yum|dnf)\s+(install|uninstall|remove)`, "system package change"),
	rule(`\bdocker\s+(rm|rmi|system\s+prune|volume\s+rm)`, "container cleanup"),
	rule(`(^|[^0-9&])>\s*/`, "write to an absolute path"),
	rule(`\bmv\s+.*\s+/`, "move to an absolute path"),
	rule(`\beval\b|\bexec\b`, "dynamic evaluation"),
}

// readOnlyCommands are accepted without review under the strict tier.
var readOnlyCommands = map[string]bool{
	"ls": true, "cat": true, "head": true, "tail": true, "pwd": true, "echo": true,
	"grep": true, "rg": true, "find": true, "wc": true, "tree": true, "which": true,
	"file": true, "stat": true, "du": true, "df": true, "diff": true, "sort": true,
	"uniq": true, "date": true, "whoami": true, "uname": true, "env": true,
}

var readOnlyGit = map[string]bool{
	"status": true, "diff": true, "log": true, "show": true, "branch": true, "blame": true, "rev-parse": true,
}

// smallModelMarkers identify models that get the strict tier.
var smallModelMarkers = []string{
	"mini", "haiku", "flash", "nano", "gemma", "phi", "qwen", "llama", "mistral",
	"deepseek-r1", "tinyllama", ":1b", ":3b", ":7b", ":8b", "-1b", "-3b", "-7b", "-8b",
}

// TierForModel returns the strictness tier for a model name.
func TierForModel(model string) Tier {
	m := strings.ToLower(model)
	if m == "" {
		return TierStrict
	}
	for _, marker := range smallModelMarkers {
		if strings.Contains(m, marker) {
			return TierStrict
		}
	}
	return TierStandard
}

// ClassifyCommand judges a shell command for the model that proposed it.
// Blocked commands never run. Under the strict tier, commands that would
// need review are blocked and anything outside the read-only set needs
// review.
func ClassifyCommand(command, model string) Verdict {
	tier := TierForModel(model)
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return Verdict{Level: SafetyBlocked, Tier: tier, Reason: "empty command"}
	}

	for _, r := range blockedRules {
		if r.pattern.MatchString(cmd) {
			return Verdict{Level: SafetyBlocked, Tier: tier, Reason: r.reason}
		}
	}
	for _, r := range reviewRules {
		if r.pattern.MatchString(cmd) {
			if tier == TierStrict {
				return Verdict{Level: SafetyBlocked, Tier: tier, Reason: r.reason}
			}
			return Verdict{Level: SafetyReview, Tier: tier, Reason: r.reason}
		}
	}

	if tier == TierStrict && !allReadOnly(cmd) {
		return Verdict{Level: SafetyReview, Tier: tier, Reason: "not a read-only command"}
	}
	return Verdict{Level: SafetySafe, Tier: tier}
}

var segmentSplitter = regexp.MustCompile(`\|\||&&|[|;&\n]`)

// allReadOnly reports whether every pipeline segment starts with a
// read-only program.
func allReadOnly(cmd string) bool {
	if strings.ContainsAny(cmd, "`") || strings.Contains(cmd, "$(") {
		return false
	}
	for _, seg := range segmentSplitter.Split(cmd, -1) {
		fields := strings.Fields(seg)
		if len(fields) == 0 {
			continue
		}
		prog := fields[0]
		if prog == "git" && len(fields) > 1 && readOnlyGit[fields[1]] {
			continue
		}
		if !readOnlyCommands[prog] {
			return false
		}
		if strings.Contains(seg, ">") {
			return false
		}
	}
	return true
}
