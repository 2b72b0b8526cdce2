// Package validator checks shell commands for operations that are unsafe or
// risky when the same command runs concurrently across many packages of one
// repository.
package validator

import (
	"fmt"
	"regexp"
	"runtime"
	"strings"

	"github.com/Iron-Ham/treebuild/internal/errors"
)

// Kind identifies a built-in command with known concurrency constraints.
// The zero value denotes a custom command.
type Kind string

const (
	KindCustom  Kind = ""
	KindCommit  Kind = "commit"
	KindPublish Kind = "publish"
	KindLink    Kind = "link"
	KindUnlink  Kind = "unlink"
)

// ParseKind converts a flag or config value to a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindCustom, KindCommit, KindPublish, KindLink, KindUnlink:
		return k, nil
	default:
		return KindCustom, errors.NewValidationError("unknown command kind").
			WithField("kind").
			WithValue(s)
	}
}

// Pattern pairs a regular expression with the message reported when it matches.
type Pattern struct {
	Expr    string
	Message string
}

// UnsafePatterns match operations that mutate state shared by every package
// in the repository. A match blocks parallel execution.
var UnsafePatterns = []Pattern{
	// Branch switching
	{`\bgit\s+(checkout|switch)\b`, "switches branches in the shared working tree"},
	// History rewriting
	{`\bgit\s+(rebase|merge|cherry-pick)\b`, "rewrites shared git history"},
	{`\bgit\s+reset\s+--hard\b`, "discards changes across the shared working tree"},
	{`\bgit\s+clean\s+-[a-zA-Z]*f`, "removes untracked files across the shared working tree"},
	{`\bgit\s+push\b.*(--force\b|\s-f\b)`, "force-pushes a shared branch"},
	// Destructive deletes
	{`\brm\s+-[a-zA-Z]*[rR][a-zA-Z]*\s+(/|~|\.\.|\$HOME)`, "recursively deletes files outside the package"},
	{`\brm\s+-[a-zA-Z]*[rR][a-zA-Z]*f?\s+\.\s*($|[;&|])`, "recursively deletes the package directory"},
	// Privilege escalation
	{`(^|[;&|(]\s*|\s)sudo\b`, "escalates privileges"},
	{`\bchmod\s+-R\b.*\s/`, "recursively changes permissions outside the package"},
}

// RiskyPatterns match operations that usually work in parallel but can
// conflict. A match produces a warning.
var RiskyPatterns = []Pattern{
	// Lockfile-touching installs
	{`\b(npm|pnpm)\s+(install|i|add|ci|update|remove|uninstall)\b`, "modifies node_modules and the lockfile, which concurrent installs can corrupt"},
	{`\byarn(\s+(install|add|remove|upgrade)\b|\s*($|[;&|]))`, "modifies node_modules and the lockfile, which concurrent installs can corrupt"},
	// Shared directories
	{`(^|\s|=)(/tmp|\$TMPDIR|\$\{TMPDIR\})(/|\s|$)`, "writes to a temporary directory shared by all packages"},
	{`(^|\s)\.\./`, "writes outside the package directory"},
	{`(^|\s)(~|\$HOME)/`, "writes to the home directory shared by all packages"},
	// Output redirection
	{`(^|[^0-9&<>])[0-9]?>>?\s*[^&\s]`, "redirects output to a file that concurrent packages may share"},
	// Shared git index
	{`\bgit\s+(add|commit|tag|stash)\b`, "contends for the shared git index lock"},
}

// Result is the outcome of validating a command for parallel execution.
type Result struct {
	// Safe is true when no issue was found. Warnings do not affect it.
	Safe     bool     `json:"safe"`
	Issues   []string `json:"issues"`
	Warnings []string `json:"warnings"`
	// RecommendedConcurrency is set for built-in kinds, 0 otherwise.
	RecommendedConcurrency int `json:"recommendedConcurrency,omitempty"`
}

// Err returns an error wrapping ErrUnsafeCommand when the result has issues.
func (r Result) Err() error {
	if r.Safe {
		return nil
	}
	return fmt.Errorf("%w: %s", errors.ErrUnsafeCommand, strings.Join(r.Issues, "; "))
}

type compiledPattern struct {
	re      *regexp.Regexp
	message string
}

var (
	unsafeRules = compilePatterns(UnsafePatterns)
	riskyRules  = compilePatterns(RiskyPatterns)

	// devNullRedirect matches redirections that discard output.
	devNullRedirect = regexp.MustCompile(`[0-9&]?>>?\s*/dev/null`)

	numCPU = runtime.NumCPU
)

func compilePatterns(patterns []Pattern) []compiledPattern {
	compiled := make([]compiledPattern, len(patterns))
	for i, p := range patterns {
		compiled[i] = compiledPattern{re: regexp.MustCompile(p.Expr), message: p.Message}
	}
	return compiled
}

// ValidateForParallel checks command against the unsafe and risky patterns
// and appends kind-specific guidance for built-in kinds.
func ValidateForParallel(command string, kind Kind) Result {
	result := Result{Issues: []string{}, Warnings: []string{}}

	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		result.Issues = append(result.Issues, "command is empty")
		return result
	}

	normalized := devNullRedirect.ReplaceAllString(trimmed, "")
	result.Issues = appendMatches(result.Issues, normalized, unsafeRules)
	result.Warnings = appendMatches(result.Warnings, normalized, riskyRules)

	if kind != KindCustom {
		cpu := numCPU()
		result.RecommendedConcurrency = GetRecommendedConcurrency(kind, cpu)
		result.Warnings = append(result.Warnings, kindWarnings(kind, result.RecommendedConcurrency)...)
	}

	result.Safe = len(result.Issues) == 0
	return result
}

// appendMatches reports each distinct message at most once.
func appendMatches(out []string, command string, rules []compiledPattern) []string {
	seen := make(map[string]bool, len(rules))
	for _, rule := range rules {
		if seen[rule.message] {
			continue
		}
		if match := rule.re.FindString(command); match != "" {
			seen[rule.message] = true
			out = append(out, fmt.Sprintf("%s (matched %q)", rule.message, strings.TrimSpace(match)))
		}
	}
	return out
}

func kindWarnings(kind Kind, recommended int) []string {
	switch kind {
	case KindCommit:
		return []string{
			"commits from parallel packages serialize on the git index lock",
			fmt.Sprintf("recommended max concurrency for commit: %d", recommended),
		}
	case KindPublish:
		return []string{
			"publishing in parallel can hit registry rate limits; failed publishes are retriable",
			fmt.Sprintf("recommended max concurrency for publish: %d", recommended),
		}
	case KindLink, KindUnlink:
		return []string{
			fmt.Sprintf("%s mutates global package links and must run sequentially", kind),
			fmt.Sprintf("recommended max concurrency for %s: %d", kind, recommended),
		}
	default:
		return nil
	}
}

// GetRecommendedConcurrency returns a conservative concurrency default for
// kind on a machine with cpuCount CPUs.
func GetRecommendedConcurrency(kind Kind, cpuCount int) int {
	cpuCount = max(cpuCount, 1)
	switch kind {
	case KindLink, KindUnlink:
		return 1
	case KindCommit:
		return min(2, cpuCount)
	case KindPublish:
		return max(1, cpuCount/2)
	default:
		return cpuCount
	}
}
