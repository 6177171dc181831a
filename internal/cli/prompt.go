package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// terminalPrompter asks questions on out and reads one line per answer from in.
type terminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *terminalPrompter {
	return &terminalPrompter{in: bufio.NewReader(in), out: out}
}

var question = color.New(color.FgYellow, color.Bold)

// Confirm accepts y or yes; anything else, end of input included, declines.
func (p *terminalPrompter) Confirm(message string) (bool, error) {
	fmt.Fprintf(p.out, "%s [y/N] ", question.Sprint(message))
	answer, err := p.readLine()
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (p *terminalPrompter) Prompt(message string) (string, error) {
	fmt.Fprintf(p.out, "%s ", question.Sprint(message))
	return p.readLine()
}

func (p *terminalPrompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}
	if errors.Is(err, io.EOF) {
		fmt.Fprintln(p.out)
	}
	return strings.TrimSpace(line), nil
}
