package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var errNoTerminal = errors.New("not a terminal")

// passwordOrPrompt returns given if set, otherwise reads a password from the terminal without echo.
func passwordOrPrompt(given string, out io.Writer) (string, error) {
	if given != "" {
		return given, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("password required: use --password or AUTHKEEPER_PASSWORD (%w)", errNoTerminal)
	}

	fmt.Fprint(out, "Password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if len(raw) == 0 {
		return "", errors.New("password cannot be empty")
	}
	return string(raw), nil
}

// valueOrPrompt returns given if set, otherwise reads a line from in.
// Share one reader across prompts so buffered input is not lost.
func valueOrPrompt(given, label string, in *bufio.Reader, out io.Writer) (string, error) {
	if given != "" {
		return given, nil
	}

	fmt.Fprintf(out, "%s: ", label)
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("%s cannot be empty", strings.ToLower(label))
	}
	return line, nil
}
