package identity

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

// TerminalPrompter reads an email line and a hidden password from a
// terminal. When in is not a terminal the password is read as a plain line.
type TerminalPrompter struct {
	in     *os.File
	reader *bufio.Reader
	out    io.Writer
	email  string
}

// NewTerminalPrompter creates a prompter. A non-empty email skips the email
// prompt.
func NewTerminalPrompter(in *os.File, out io.Writer, email string) *TerminalPrompter {
	return &TerminalPrompter{in: in, reader: bufio.NewReader(in), out: out, email: email}
}

// Prompt implements CredentialPrompter. Empty input, EOF and a cancelled
// ctx all count as the user giving up.
func (p *TerminalPrompter) Prompt(ctx context.Context) (Credentials, error) {
	email := p.email
	if email == "" {
		fmt.Fprint(p.out, "Email: ")
		line, err := p.readLine()
		if err != nil {
			return Credentials{}, err
		}
		email = line
	}
	if err := ctx.Err(); err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrAuthCancelled, err)
	}

	fmt.Fprint(p.out, "Password: ")
	var password string
	if fd := int(p.in.Fd()); term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return Credentials{}, fmt.Errorf("%w: %v", ErrAuthCancelled, err)
		}
		password = string(raw)
	} else {
		line, err := p.readLine()
		if err != nil {
			return Credentials{}, err
		}
		password = line
	}
	if password == "" {
		return Credentials{}, fmt.Errorf("%w: empty password", ErrAuthCancelled)
	}
	if err := ctx.Err(); err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrAuthCancelled, err)
	}
	return Credentials{Email: email, Password: password}, nil
}

func (p *TerminalPrompter) readLine() (string, error) {
	line, err := p.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("%w: %v", ErrAuthCancelled, err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("%w: empty input", ErrAuthCancelled)
	}
	return line, nil
}
