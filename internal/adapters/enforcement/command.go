// Package enforcement provides the blocking backends driven by the
// auto-blocker: local firewall commands, a shared Redis blocklist and an
// AMQP fan-out for remote enforcement workers.
//
// Backends are fire-and-forget from the auto-blocker's perspective. A
// failing backend degrades to "tracked but not enforced"; the in-memory
// block record is authoritative either way.
package enforcement

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

const subjectPlaceholder = "{subject}"

// CommandBackend enforces blocks by running a configured shell command,
// typically an nftables or iptables invocation, with the subject spliced
// into the argument list.
type CommandBackend struct {
	banArgs   []string
	unbanArgs []string
}

// CommandBackendConfig holds the ban and unban command templates. Each is a
// full argv whose "{subject}" tokens are replaced per call, e.g.
// "nft add element inet filter blocked { {subject} }".
type CommandBackendConfig struct {
	BanCommand   string
	UnbanCommand string
}

// NewCommandBackend creates a command backend from the given templates.
// Returns an error when either template is empty or lacks the subject
// placeholder.
func NewCommandBackend(config CommandBackendConfig) (*CommandBackend, error) {
	banArgs, err := parseTemplate(config.BanCommand)
	if err != nil {
		return nil, fmt.Errorf("ban command: %w", err)
	}
	unbanArgs, err := parseTemplate(config.UnbanCommand)
	if err != nil {
		return nil, fmt.Errorf("unban command: %w", err)
	}
	return &CommandBackend{banArgs: banArgs, unbanArgs: unbanArgs}, nil
}

func parseTemplate(template string) ([]string, error) {
	args := strings.Fields(template)
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command template")
	}
	for _, arg := range args {
		if strings.Contains(arg, subjectPlaceholder) {
			return args, nil
		}
	}
	return nil, fmt.Errorf("template %q has no %s placeholder", template, subjectPlaceholder)
}

func (b *CommandBackend) Ban(ctx context.Context, subject string) error {
	return b.run(ctx, b.banArgs, subject)
}

func (b *CommandBackend) Unban(ctx context.Context, subject string) error {
	return b.run(ctx, b.unbanArgs, subject)
}

// run substitutes the subject into the template and executes it. The
// subject is passed as a discrete argv element, never through a shell, so
// it cannot be used for injection.
func (b *CommandBackend) run(ctx context.Context, template []string, subject string) error {
	args := make([]string, len(template))
	for i, arg := range template {
		args[i] = strings.ReplaceAll(arg, subjectPlaceholder, subject)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		log.Error().Err(err).
			Str("command", strings.Join(args, " ")).
			Str("output", strings.TrimSpace(string(output))).
			Msg("Enforcement command failed")
		return fmt.Errorf("command %q: %w", args[0], err)
	}

	log.Debug().Str("command", strings.Join(args, " ")).Msg("Enforcement command succeeded")
	return nil
}

func (b *CommandBackend) Name() string {
	return "command"
}
