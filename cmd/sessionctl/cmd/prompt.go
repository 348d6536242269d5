package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// stdin is shared so consecutive prompts do not lose buffered input.
var stdin = bufio.NewReader(os.Stdin)

// readLine prints label to stderr and reads one line from stdin.
func readLine(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	line, err := stdin.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readSecret prints label to stderr and reads without echo when stdin is a
// terminal, or one line otherwise.
func readSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return readLine(label)
	}
	fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return string(b), nil
}

// confirm asks a yes/no question; only y or Y counts as yes.
func confirm(question string) bool {
	answer, err := readLine(question + " [y/N] ")
	if err != nil {
		return false
	}
	return answer == "y" || answer == "Y"
}
