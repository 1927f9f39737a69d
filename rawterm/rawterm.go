// Package rawterm provides a minimal raw terminal for the interactive
// examples: single key presses in, CRLF-terminated lines out.
//
// Newlines are always LF (not CR or CRLF). While terminals generally use a
// different format (CR when pressing the enter key and CRLF for newline) the
// format returned by Getchar and expected by Putchar and Printf is a single
// LF.
package rawterm

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/crypto/ssh/terminal"
)

var (
	mu            sync.Mutex
	terminalState *terminal.State
)

// Getchar returns a single character from stdin. Newlines are encoded with a
// single LF ('\n'). It returns io.EOF when stdin is closed.
func Getchar() (byte, error) {
	var b [1]byte
	n, err := os.Stdin.Read(b[:])
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}
	if b[0] == '\r' {
		return '\n', nil
	}
	return b[0], nil
}

// Putchar writes a single character to the terminal. Newlines are expected to
// be encoded as LF symbols ('\n').
func Putchar(ch byte) {
	mu.Lock()
	defer mu.Unlock()
	putchar(ch)
}

func putchar(ch byte) {
	if ch == '\n' && terminalState != nil {
		// Terminals in raw mode expect CRLF.
		os.Stdout.Write([]byte{'\r'})
	}
	os.Stdout.Write([]byte{ch})
}

// Printf formats like fmt.Printf and writes the result with Putchar.
func Printf(format string, args ...interface{}) {
	s := fmt.Sprintf(format, args...)
	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < len(s); i++ {
		putchar(s[i])
	}
}

// Configure puts the terminal in raw mode. It must be restored after use
// with Restore:
//
//	if err := rawterm.Configure(); err != nil {
//		// not a terminal
//	}
//	defer rawterm.Restore()
func Configure() error {
	fd := int(os.Stdin.Fd())
	if !terminal.IsTerminal(fd) {
		return fmt.Errorf("stdin is not a terminal")
	}
	state, err := terminal.MakeRaw(fd)
	if err != nil {
		return err
	}
	mu.Lock()
	terminalState = state
	mu.Unlock()
	return nil
}

// Restore restores the state from before Configure. It does nothing when
// Configure failed or was not called.
func Restore() {
	mu.Lock()
	defer mu.Unlock()
	if terminalState == nil {
		return
	}
	terminal.Restore(int(os.Stdin.Fd()), terminalState)
	terminalState = nil
}
