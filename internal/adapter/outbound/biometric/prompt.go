package biometric

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// TerminalPrompt reads a passcode from the controlling terminal without
// echo. When input is not a terminal it reads one line in the clear, which
// keeps scripted use working.
type TerminalPrompt struct {
	In  *os.File
	Out io.Writer

	r *bufio.Reader
}

// NewTerminalPrompt prompts on stderr and reads stdin.
func NewTerminalPrompt() *TerminalPrompt {
	return &TerminalPrompt{In: os.Stdin, Out: os.Stderr}
}

// ReadPasscode implements Prompt. EOF is reported as ErrPromptCancelled.
func (p *TerminalPrompt) ReadPasscode(_ context.Context, reason string) (string, error) {
	fmt.Fprintf(p.Out, "%s\nPasscode: ", reason)

	fd := int(p.In.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(p.Out)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", ErrPromptCancelled
			}
			return "", err
		}
		return string(b), nil
	}

	if p.r == nil {
		p.r = bufio.NewReader(p.In)
	}
	line, err := p.r.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		if errors.Is(err, io.EOF) {
			return "", ErrPromptCancelled
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
