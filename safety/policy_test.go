package safety

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPolicy(t *testing.T, rules Rules, opts ...PolicyOption) *Policy {
	t.Helper()
	p, err := NewPolicy(rules, opts...)
	require.NoError(t, err)
	return p
}

func TestEvaluateCommand_DefaultRules(t *testing.T) {
	p := mustPolicy(t, DefaultRules())

	tests := []struct {
		name    string
		command string
		allowed bool
	}{
		{"plain listing", "ls -la", true},
		{"safe remove", "rm build/output.txt", true},
		{"recursive root delete", "rm -rf /", false},
		{"privileged delete", "sudo rm -rf /var/data", false},
		{"filesystem format", "mkfs.ext4 /dev/sda1", false},
		{"raw device copy", "dd if=/dev/zero of=/dev/sda", false},
		{"fork bomb", ":(){ :|:& };:", false},
		{"shutdown prefix", "shutdown -h now", false},
		{"empty command", "", false},
		{"whitespace only", "   ", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := p.EvaluateCommand(tc.command)
			assert.Equal(t, tc.allowed, d.Allowed, "command %q", tc.command)
			if !tc.allowed {
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}

func TestEvaluateCommand_NormalizationDefeatsObfuscation(t *testing.T) {
	p := mustPolicy(t, DefaultRules())

	// Casing and extra whitespace must not bypass the rule tables.
	assert.False(t, p.EvaluateCommand("SUDO   RM -rf /etc").Allowed)
	assert.False(t, p.EvaluateCommand("  rm   -rf   / ").Allowed)
	assert.False(t, p.EvaluateCommand("ShUtDoWn now").Allowed)
}

func TestEvaluateCommand_UntokenizableDenied(t *testing.T) {
	p := mustPolicy(t, DefaultRules())

	d := p.EvaluateCommand(`echo "unterminated`)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "tokenized")
}

func TestEvaluateCommand_Deterministic(t *testing.T) {
	p := mustPolicy(t, DefaultRules())

	first := p.EvaluateCommand("sudo rm -rf /tmp/x")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, p.EvaluateCommand("sudo rm -rf /tmp/x"))
	}
}

func TestEvaluatePath_AllowedRoots(t *testing.T) {
	p := mustPolicy(t, Rules{
		AllowedRoots:   []string{"/sandbox", "/tmp/work"},
		ForbiddenPaths: []string{"/sandbox/secrets"},
	})

	tests := []struct {
		name    string
		path    string
		allowed bool
	}{
		{"inside first root", "/sandbox/data/file.txt", true},
		{"root itself", "/sandbox", true},
		{"inside second root", "/tmp/work/out.log", true},
		{"outside every root", "/etc/passwd", false},
		{"sibling prefix is not containment", "/sandboxes/file", false},
		{"traversal escapes root", "/sandbox/../../etc/passwd", false},
		{"forbidden overrides allowed", "/sandbox/secrets/key.pem", false},
		{"empty path", "", false},
		{"relative path", "data/file.txt", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := p.EvaluatePath(tc.path, nil)
			assert.Equal(t, tc.allowed, d.Allowed, "path %q", tc.path)
		})
	}
}

func TestEvaluatePath_PermissiveWithoutRoots(t *testing.T) {
	p := mustPolicy(t, Rules{ForbiddenPaths: []string{"/etc"}})

	assert.True(t, p.EvaluatePath("/home/user/notes.txt", nil).Allowed)
	assert.False(t, p.EvaluatePath("/etc/passwd", nil).Allowed)
}

func TestEvaluatePath_PerCallRootsOverrideConfigured(t *testing.T) {
	p := mustPolicy(t, Rules{AllowedRoots: []string{"/sandbox"}})

	// Per-call roots replace the configured set entirely.
	assert.True(t, p.EvaluatePath("/data/file", []string{"/data"}).Allowed)
	assert.False(t, p.EvaluatePath("/sandbox/file", []string{"/data"}).Allowed)
}

func TestEvaluatePath_HomeExpansion(t *testing.T) {
	p := mustPolicy(t, Rules{
		AllowedRoots: []string{"~/work"},
		Home:         "/home/beru",
	})

	assert.True(t, p.EvaluatePath("~/work/report.md", nil).Allowed)
	assert.False(t, p.EvaluatePath("~/other/file", nil).Allowed)

	// Without a configured home, ~ cannot be resolved.
	bare := mustPolicy(t, Rules{})
	assert.False(t, bare.EvaluatePath("~/file", nil).Allowed)
}

func TestNewPolicy_RejectsRelativeRoots(t *testing.T) {
	_, err := NewPolicy(Rules{AllowedRoots: []string{"relative/root"}})
	require.Error(t, err)

	_, err = NewPolicy(Rules{ForbiddenPaths: []string{"also/relative"}})
	require.Error(t, err)
}

func TestNewPolicy_CopiesRuleTables(t *testing.T) {
	rules := Rules{ForbiddenCommands: []string{"rm -rf /"}}
	p := mustPolicy(t, rules)

	// Mutating the input after construction must not change decisions.
	rules.ForbiddenCommands[0] = "harmless"
	assert.False(t, p.EvaluateCommand("rm -rf /").Allowed)
}

type countingRecorder struct {
	commands int
	paths    int
	denied   int
}

func (c *countingRecorder) RecordPolicyDecision(kind string, allowed bool) {
	switch kind {
	case "command":
		c.commands++
	case "path":
		c.paths++
	}
	if !allowed {
		c.denied++
	}
}

func TestPolicy_RecordsEveryDecision(t *testing.T) {
	rec := &countingRecorder{}
	p := mustPolicy(t, DefaultRules(), WithDecisionRecorder(rec))

	p.EvaluateCommand("ls")
	p.EvaluateCommand("sudo rm -rf /")
	p.EvaluatePath("/tmp/file", nil)

	assert.Equal(t, 2, rec.commands)
	assert.Equal(t, 1, rec.paths)
	assert.Equal(t, 1, rec.denied)
}

func TestPolicy_AuditSinkReceivesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	audit := NewAuditLogger(nil).WithSink(&buf)
	p := mustPolicy(t, DefaultRules(), WithAudit(audit))

	p.EvaluateCommand("ls -la")
	p.EvaluateCommand("sudo rm -rf /")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second AuditEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))

	assert.Equal(t, "command", first.Kind)
	assert.True(t, first.Allowed)
	assert.False(t, second.Allowed)
	assert.NotEmpty(t, second.Reason)
	assert.False(t, second.Timestamp.IsZero())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestPolicy_AuditFailureNeverAltersDecision(t *testing.T) {
	audit := NewAuditLogger(nil).WithSink(failingWriter{})
	p := mustPolicy(t, DefaultRules(), WithAudit(audit))

	// The sink fails on every write; decisions are unaffected.
	assert.True(t, p.EvaluateCommand("ls").Allowed)
	assert.False(t, p.EvaluateCommand("sudo rm -rf /").Allowed)
}
