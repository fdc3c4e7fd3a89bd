// Package renderer turns one graph-description file into one image by running
// an external program such as Graphviz dot.
package renderer

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/conneroisu/gstdots/internal/errors"
)

const (
	// InputToken is replaced with the description file path in the argument list.
	InputToken = "{input}"
	// OutputToken is replaced with the image path in the argument list.
	OutputToken = "{output}"
)

// DefaultAllowedCommands are the Graphviz layout engines.
var DefaultAllowedCommands = []string{
	"dot", "neato", "fdp", "sfdp", "circo", "twopi", "osage", "patchwork",
}

// Renderer produces an image at output from the description file at input.
type Renderer interface {
	Render(ctx context.Context, input, output string) error
}

// Command runs an external renderer process.
type Command struct {
	command string
	args    []string
}

// Option configures a Command.
type Option func(*options)

type options struct {
	allowed map[string]bool
}

// WithAllowedCommands extends the allowlist of executables.
func WithAllowedCommands(commands ...string) Option {
	return func(o *options) {
		for _, c := range commands {
			o.allowed[c] = true
		}
	}
}

// NewCommand validates command and args and returns a renderer that runs them.
// Arguments may reference InputToken and OutputToken.
func NewCommand(command string, args []string, opts ...Option) (*Command, error) {
	o := &options{allowed: make(map[string]bool)}
	for _, c := range DefaultAllowedCommands {
		o.allowed[c] = true
	}
	for _, opt := range opts {
		opt(o)
	}

	if err := validateCommand(command, o.allowed); err != nil {
		return nil, err
	}
	hasOutput := false
	for _, arg := range args {
		if err := validateArgument(arg); err != nil {
			return nil, errors.NewConfigError("ERR_RENDER_ARG", fmt.Sprintf("invalid argument %q: %v", arg, err))
		}
		if strings.Contains(arg, OutputToken) {
			hasOutput = true
		}
	}
	if !hasOutput {
		return nil, errors.NewConfigError("ERR_RENDER_ARG", "renderer arguments must reference "+OutputToken)
	}

	return &Command{command: command, args: append([]string(nil), args...)}, nil
}

// Name returns the executable name.
func (c *Command) Name() string {
	return c.command
}

// Args expands the argument template for one invocation.
func (c *Command) Args(input, output string) []string {
	replacer := strings.NewReplacer(InputToken, input, OutputToken, output)
	args := make([]string, len(c.args))
	for i, arg := range c.args {
		args[i] = replacer.Replace(arg)
	}
	return args
}

// Render runs the renderer and waits for it to exit. A missing executable, a
// non-zero exit and a cancelled context are all reported as render errors.
func (c *Command) Render(ctx context.Context, input, output string) error {
	// The process runs in the input's directory, so relative paths would
	// resolve against the wrong place.
	input, output = absPath(input), absPath(output)
	cmd := exec.CommandContext(ctx, c.command, c.Args(input, output)...)
	cmd.Dir = filepath.Dir(input)

	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return errors.NewRenderError("ERR_RENDER_CANCELLED", c.command+" cancelled", ctx.Err()).WithPath(input)
		}
		msg := c.command + " failed"
		if trimmed := strings.TrimSpace(string(out)); trimmed != "" {
			msg += ": " + trimmed
		}
		return errors.NewRenderError("ERR_RENDER_FAILED", msg, err).WithPath(input)
	}
	return nil
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// validateCommand checks the executable against the allowlist. Commands are
// exec'd directly, never through a shell.
func validateCommand(command string, allowed map[string]bool) error {
	if command == "" {
		return errors.NewConfigError("ERR_RENDER_COMMAND", "renderer command cannot be empty")
	}
	if err := validateArgument(command); err != nil {
		return errors.ErrCommandNotAllowed(command)
	}
	if !allowed[filepath.Base(command)] {
		return errors.ErrCommandNotAllowed(command)
	}
	return nil
}

func validateArgument(arg string) error {
	dangerous := []string{";", "&", "|", "$", "`", "<", ">", "\n"}
	for _, char := range dangerous {
		if strings.Contains(arg, char) {
			return fmt.Errorf("contains dangerous character: %q", char)
		}
	}
	return nil
}

// Result is the completion signal of one asynchronous render.
type Result struct {
	Input    string
	Output   string
	Err      error
	Duration time.Duration
}

// Async starts r in its own goroutine. The returned channel receives exactly
// one Result and is then closed; callers that do not care may drop it.
func Async(ctx context.Context, r Renderer, input, output string) <-chan Result {
	done := make(chan Result, 1)
	go func() {
		defer close(done)
		start := time.Now()
		err := r.Render(ctx, input, output)
		done <- Result{Input: input, Output: output, Err: err, Duration: time.Since(start)}
	}()
	return done
}

// Limited caps the number of renderer processes running at once.
type Limited struct {
	Renderer
	sem *semaphore.Weighted
}

// NewLimited wraps r so at most n renders run concurrently. n <= 0 returns r unchanged.
func NewLimited(r Renderer, n int) Renderer {
	if n <= 0 {
		return r
	}
	return &Limited{Renderer: r, sem: semaphore.NewWeighted(int64(n))}
}

// Render waits for a free slot and then renders.
func (l *Limited) Render(ctx context.Context, input, output string) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return errors.NewRenderError("ERR_RENDER_CANCELLED", "waiting for render slot", err).WithPath(input)
	}
	defer l.sem.Release(1)
	return l.Renderer.Render(ctx, input, output)
}
