package provider

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"speedchecker/pkg/logx"
)

// Capability runs one provider measurement and returns its raw textual
// output. The implementation is deliberately opaque to the rest of the
// system: the caller only sees "output or failure".
type Capability interface {
	Run(ctx context.Context, p Provider) (string, error)
}

// CapabilityFunc adapts a function to Capability.
type CapabilityFunc func(ctx context.Context, p Provider) (string, error)

func (f CapabilityFunc) Run(ctx context.Context, p Provider) (string, error) { return f(ctx, p) }

// CommandCapability invokes a configured external command per provider
// (typically a headless-browser wrapper script) and captures its stdout.
// Stderr is ignored so diagnostic chatter cannot corrupt result extraction.
type CommandCapability struct {
	// Commands maps each provider to argv of the command to execute.
	Commands map[Provider][]string
	// Timeout bounds one invocation. This is the only timeout in the whole
	// pipeline; orchestration above has no overall deadline.
	Timeout time.Duration

	Log logx.Logger
}

const DefaultCommandTimeout = 5 * time.Minute

func (c *CommandCapability) Run(ctx context.Context, p Provider) (string, error) {
	argv, ok := c.Commands[p]
	if !ok || len(argv) == 0 {
		return "", fmt.Errorf("no command configured for provider %q", p)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	start := time.Now()
	err := cmd.Run()
	if !c.Log.IsZero() {
		c.Log.Debug("provider command finished",
			logx.String("provider", string(p)),
			logx.Duration("took", time.Since(start)),
			logx.Err(err),
		)
	}
	if err != nil {
		// The captured output still matters for failure reports.
		return stdout.String(), fmt.Errorf("run %s command: %w", p, err)
	}
	return stdout.String(), nil
}
