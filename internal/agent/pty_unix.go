//go:build !windows

package agent

import (
	"io"
	"os/exec"

	"github.com/creack/pty"
)

var ptySupported = true

// startPTY starts cmd on a new pseudo-terminal in its own session and
// returns the terminal's output side.
func startPTY(cmd *exec.Cmd) (io.ReadCloser, error) {
	return pty.Start(cmd)
}
