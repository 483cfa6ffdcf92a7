// Package exec provides shell command inspection helpers used for
// approval decisions.
package exec

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// shellMetachars matches characters that chain or redirect
	// commands. Their presence means the command is more than a
	// single program invocation.
	shellMetachars = regexp.MustCompile("[;&|`$<>]")

	// envAssignment matches leading VAR=value words.
	envAssignment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

	// bareName matches safe bare executable names.
	bareName = regexp.MustCompile(`^[A-Za-z0-9._+-]+$`)
)

// Wrapper programs that defer to the command that follows them.
var wrappers = map[string]bool{
	"sudo":    true,
	"env":     true,
	"command": true,
	"nohup":   true,
	"nice":    true,
	"time":    true,
	"xargs":   true,
}

// RootCommand returns the base name of the program a shell command
// runs, skipping environment assignments and wrapper programs. It
// returns "" when no command word can be identified.
func RootCommand(command string) string {
	for _, tok := range strings.Fields(command) {
		tok = strings.Trim(tok, `"'`)
		if tok == "" || envAssignment.MatchString(tok) {
			continue
		}
		name := filepath.Base(tok)
		if wrappers[name] {
			continue
		}
		if strings.HasPrefix(name, "-") {
			// Option to a wrapper, keep scanning for the program.
			continue
		}
		if !bareName.MatchString(name) {
			return ""
		}
		return name
	}
	return ""
}

// IsSimpleCommand reports whether command is a single program
// invocation with no chaining, piping, substitution, or redirection.
// Only simple commands are safe to remember on an allowlist, since
// "git status && rm -rf /" must not ride on an allowlisted "git".
func IsSimpleCommand(command string) bool {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return false
	}
	if strings.Contains(trimmed, "\x00") || strings.ContainsAny(trimmed, "\r\n") {
		return false
	}
	return !shellMetachars.MatchString(trimmed)
}
