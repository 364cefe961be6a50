package safety

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"
)

// Decision is the outcome of a single policy evaluation. It is computed per
// call and never persisted.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Allow returns a permitting decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a rejecting decision with the given reason.
func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// DecisionRecorder receives policy decisions for metrics. Implemented by
// the internal metrics collector.
type DecisionRecorder interface {
	RecordPolicyDecision(kind string, allowed bool)
}

// Rules holds the static tables a Policy decides against. Command entries
// are matched against a normalized form of the proposed command: shell
// tokens lowercased and joined by single spaces, so extra whitespace or
// quoting tricks cannot bypass a rule.
type Rules struct {
	// ForbiddenCommands are denied when they appear anywhere in the
	// normalized command.
	ForbiddenCommands []string `yaml:"forbidden_commands"`
	// ForbiddenPrefixes are denied when the normalized command starts
	// with them.
	ForbiddenPrefixes []string `yaml:"forbidden_prefixes"`
	// AllowedRoots are the directories paths must fall under. An empty
	// list is permissive: any path not explicitly forbidden is allowed.
	AllowedRoots []string `yaml:"allowed_roots"`
	// ForbiddenPaths are denied regardless of AllowedRoots.
	ForbiddenPaths []string `yaml:"forbidden_paths"`
	// Home is the expansion for a leading "~" in evaluated paths.
	Home string `yaml:"home"`
}

// DefaultRules returns the built-in rule tables: destructive recursive
// deletes, privilege-escalated deletes, raw device writes, filesystem
// formatting, and the classic fork bomb.
func DefaultRules() Rules {
	return Rules{
		ForbiddenCommands: []string{
			"rm -rf /",
			"rm -fr /",
			"rm -rf ~",
			"sudo rm",
			"mkfs.",
			"dd if=",
			"chmod 777 /",
			"> /dev/sd",
			":(){ :|:& };:",
		},
		ForbiddenPrefixes: []string{
			"shutdown",
			"reboot",
		},
	}
}

// Policy evaluates proposed commands and paths against immutable rule
// tables. It holds no mutable state and is safe for concurrent use without
// locking.
type Policy struct {
	forbiddenCommands []string
	forbiddenPrefixes []string
	allowedRoots      []string
	forbiddenPaths    []string
	home              string

	audit    *AuditLogger
	logger   *zap.Logger
	recorder DecisionRecorder
}

// PolicyOption configures a Policy at construction time.
type PolicyOption func(*Policy)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) PolicyOption {
	return func(p *Policy) { p.logger = logger }
}

// WithAudit sets the audit logger decisions are recorded to.
func WithAudit(audit *AuditLogger) PolicyOption {
	return func(p *Policy) { p.audit = audit }
}

// WithDecisionRecorder sets the metrics recorder.
func WithDecisionRecorder(r DecisionRecorder) PolicyOption {
	return func(p *Policy) { p.recorder = r }
}

// NewPolicy builds a Policy from the given rules. Rule tables are
// normalized and copied so later mutation of the input cannot affect
// decisions. Allowed roots and forbidden paths must be absolute.
func NewPolicy(rules Rules, opts ...PolicyOption) (*Policy, error) {
	p := &Policy{
		home:   rules.Home,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("component", "safety_policy"))

	for _, c := range rules.ForbiddenCommands {
		if s := collapseWhitespace(strings.ToLower(c)); s != "" {
			p.forbiddenCommands = append(p.forbiddenCommands, s)
		}
	}
	for _, c := range rules.ForbiddenPrefixes {
		if s := collapseWhitespace(strings.ToLower(c)); s != "" {
			p.forbiddenPrefixes = append(p.forbiddenPrefixes, s)
		}
	}
	for _, root := range rules.AllowedRoots {
		abs, err := p.absolutize(root)
		if err != nil {
			return nil, fmt.Errorf("allowed root %q: %w", root, err)
		}
		p.allowedRoots = append(p.allowedRoots, abs)
	}
	for _, fp := range rules.ForbiddenPaths {
		abs, err := p.absolutize(fp)
		if err != nil {
			return nil, fmt.Errorf("forbidden path %q: %w", fp, err)
		}
		p.forbiddenPaths = append(p.forbiddenPaths, abs)
	}

	return p, nil
}

// EvaluateCommand decides whether the proposed shell command may run.
// Matching is case-insensitive and anchored on normalized shell tokens;
// commands that cannot be tokenized are denied.
func (p *Policy) EvaluateCommand(command string) Decision {
	d := p.evaluateCommand(command)
	p.record("command", command, d)
	return d
}

func (p *Policy) evaluateCommand(command string) Decision {
	if strings.TrimSpace(command) == "" {
		return Deny("empty command")
	}

	normalized, err := normalizeCommand(command)
	if err != nil {
		return Deny(fmt.Sprintf("command could not be tokenized: %v", err))
	}

	for _, forbidden := range p.forbiddenCommands {
		if strings.Contains(normalized, forbidden) {
			return Deny(fmt.Sprintf("command contains forbidden pattern %q", forbidden))
		}
	}
	for _, prefix := range p.forbiddenPrefixes {
		if strings.HasPrefix(normalized, prefix) {
			return Deny(fmt.Sprintf("command matches forbidden prefix %q", prefix))
		}
	}

	return Allow()
}

// EvaluatePath decides whether the proposed path may be touched. When
// allowedRoots is nil the policy's configured roots apply. Paths are
// canonicalized lexically (cleaning ".." segments) before comparison, so a
// path that traverses outside an allowed root is denied even if its literal
// string starts inside one.
func (p *Policy) EvaluatePath(path string, allowedRoots []string) Decision {
	d := p.evaluatePath(path, allowedRoots)
	p.record("path", path, d)
	return d
}

func (p *Policy) evaluatePath(path string, allowedRoots []string) Decision {
	if strings.TrimSpace(path) == "" {
		return Deny("empty path")
	}

	resolved, err := p.absolutize(path)
	if err != nil {
		return Deny(err.Error())
	}

	for _, forbidden := range p.forbiddenPaths {
		if underRoot(resolved, forbidden) {
			return Deny(fmt.Sprintf("path is under forbidden root %q", forbidden))
		}
	}

	roots := allowedRoots
	if roots == nil {
		roots = p.allowedRoots
	} else {
		cleaned := make([]string, 0, len(roots))
		for _, root := range roots {
			abs, err := p.absolutize(root)
			if err != nil {
				return Deny(fmt.Sprintf("allowed root %q: %v", root, err))
			}
			cleaned = append(cleaned, abs)
		}
		roots = cleaned
	}

	// No configured roots means permissive mode: only the forbidden
	// table applies.
	if len(roots) == 0 {
		return Allow()
	}

	for _, root := range roots {
		if underRoot(resolved, root) {
			return Allow()
		}
	}

	return Deny(fmt.Sprintf("path %q is outside every allowed root", resolved))
}

// record logs the decision for audit. It must never block or alter the
// decision, so all failure paths are swallowed.
func (p *Policy) record(kind, input string, d Decision) {
	if p.recorder != nil {
		p.recorder.RecordPolicyDecision(kind, d.Allowed)
	}
	if p.audit != nil {
		p.audit.Record(kind, input, d)
		return
	}
	if d.Allowed {
		p.logger.Debug("policy decision",
			zap.String("kind", kind),
			zap.String("input", input),
			zap.Bool("allowed", true),
		)
	} else {
		p.logger.Warn("policy denied",
			zap.String("kind", kind),
			zap.String("input", input),
			zap.String("reason", d.Reason),
		)
	}
}

// absolutize expands a leading "~", requires the result to be absolute,
// and cleans it. Evaluation stays lexical: symlinks are not followed, so
// the policy never touches the filesystem.
func (p *Policy) absolutize(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if p.home == "" {
			return "", fmt.Errorf("path %q uses ~ but no home is configured", path)
		}
		path = filepath.Join(p.home, strings.TrimPrefix(path[1:], "/"))
	}
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("path %q is not absolute", path)
	}
	return filepath.Clean(path), nil
}

// normalizeCommand splits the command into shell tokens, lowercases them,
// and rejoins with single spaces.
func normalizeCommand(command string) (string, error) {
	tokens, err := shellquote.Split(command)
	if err != nil {
		return "", err
	}
	for i, tok := range tokens {
		tokens[i] = strings.ToLower(tok)
	}
	return strings.Join(tokens, " "), nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// underRoot reports whether path equals root or lies beneath it. Both
// arguments must already be cleaned absolute paths.
func underRoot(path, root string) bool {
	if path == root {
		return true
	}
	if root == string(filepath.Separator) {
		return strings.HasPrefix(path, root)
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
