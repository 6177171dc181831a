package repair

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

// Editor runs an interactive tool on a file and reports its exit code.
type Editor interface {
	Edit(ctx context.Context, path string) (exitCode int, err error)
}

// CommandEditor runs a command line template with the file path appended,
// e.g. "code --wait" or "vim".
type CommandEditor struct {
	Template string
	Stdin    io.Reader
	Stdout   io.Writer
	Stderr   io.Writer
}

// Args parses the template and appends path.
func (e *CommandEditor) Args(path string) ([]string, error) {
	args, err := shellwords.Parse(e.Template)
	if err != nil {
		return nil, fmt.Errorf("parse repair command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("repair command must contain at least one argument")
	}
	return append(args, path), nil
}

// Edit blocks until the editor exits. A process that ran and exited non-zero
// returns its exit code with a nil error.
func (e *CommandEditor) Edit(ctx context.Context, path string) (int, error) {
	args, err := e.Args(path)
	if err != nil {
		return -1, err
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = readerOr(e.Stdin, os.Stdin)
	cmd.Stdout = writerOr(e.Stdout, os.Stdout)
	cmd.Stderr = writerOr(e.Stderr, os.Stderr)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("failed to start %s: %w", args[0], err)
	}
	return 0, nil
}

func readerOr(r io.Reader, def io.Reader) io.Reader {
	if r == nil {
		return def
	}
	return r
}

func writerOr(w io.Writer, def io.Writer) io.Writer {
	if w == nil {
		return def
	}
	return w
}
