// Package shell attaches the caller's terminal to a command running inside
// an instance: pty allocation, raw mode, and window-size propagation.
package shell

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Attach runs cmd under a pseudo-terminal wired to the caller's stdio and
// blocks until it exits. The local terminal is switched to raw mode for
// the duration and restored afterwards; window resizes are forwarded.
func Attach(cmd *exec.Cmd) error {
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("start shell: %w", err)
	}
	defer ptmx.Close()

	resize := make(chan os.Signal, 1)
	signal.Notify(resize, unix.SIGWINCH)
	go func() {
		for range resize {
			_ = pty.InheritSize(os.Stdin, ptmx)
		}
	}()
	resize <- unix.SIGWINCH // set the initial size
	defer func() {
		signal.Stop(resize)
		close(resize)
	}()

	restore, err := makeRaw()
	if err != nil {
		return err
	}
	defer restore()

	go func() {
		_, _ = io.Copy(ptmx, os.Stdin)
	}()
	_, _ = io.Copy(os.Stdout, ptmx)

	return cmd.Wait()
}

// makeRaw switches stdin to raw mode when it is a terminal. Output piped
// through a non-terminal stdin is left alone.
func makeRaw() (func(), error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("set terminal to raw mode: %w", err)
	}
	return func() { _ = term.Restore(fd, state) }, nil
}
