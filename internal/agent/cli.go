package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/parleyhq/parley/internal/resilience"
	"github.com/parleyhq/parley/internal/sanitize"
	"github.com/parleyhq/parley/internal/types"
)

// cliBackend runs a subprocess per call: prompt on stdin, completion from
// stdout. The argv template is executed directly, never through a shell.
type cliBackend struct {
	command []string
}

func newCLIBackend(config Config) (*cliBackend, error) {
	if len(config.Command) == 0 {
		return nil, fmt.Errorf("cli backend for %s requires a command", config.Name)
	}
	args := make([]string, len(config.Command))
	for i, arg := range config.Command {
		args[i] = sanitize.CLIArg(arg)
	}
	return &cliBackend{command: args}, nil
}

func (b *cliBackend) Kind() types.BackendKind { return types.BackendCLI }

func (b *cliBackend) Complete(ctx context.Context, req Request) (string, error) {
	cmd := exec.CommandContext(ctx, b.command[0], b.command[1:]...)

	var input strings.Builder
	if req.System != "" {
		input.WriteString(req.System)
		input.WriteString("\n\n")
	}
	input.WriteString(req.Prompt)
	cmd.Stdin = strings.NewReader(input.String())

	var stdout cappedBuffer
	var stderr bytes.Buffer
	stdout.limit = MaxOutputBytes
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Context expiry means the process was killed by the timeout.
		if ctx.Err() == context.DeadlineExceeded {
			return "", context.DeadlineExceeded
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			code := exitErr.ExitCode()
			kind := resilience.ClassifyExit(code)
			detail := strings.TrimSpace(stderr.String())
			if len(detail) > 512 {
				detail = detail[:512]
			}
			return "", &resilience.AgentError{
				Kind: kind,
				Op:   "cli",
				Err:  fmt.Errorf("exit code %d: %s", code, detail),
			}
		}
		return "", err
	}
	return stdout.String(), nil
}

func (b *cliBackend) Stream(ctx context.Context, req Request, onToken func(string)) (string, error) {
	// Subprocess output is delivered whole; emit it as a single chunk.
	out, err := b.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if onToken != nil {
		onToken(out)
	}
	return out, nil
}

// cappedBuffer accepts writes up to limit bytes, then silently discards the
// rest so a runaway subprocess cannot exhaust memory.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - c.buf.Len()
	if room <= 0 {
		return len(p), nil
	}
	if len(p) > room {
		if _, err := c.buf.Write(p[:room]); err != nil && err != io.ErrShortWrite {
			return 0, err
		}
		return len(p), nil
	}
	return c.buf.Write(p)
}

func (c *cappedBuffer) String() string { return c.buf.String() }
