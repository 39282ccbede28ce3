//go:build windows

package agent

import (
	"errors"
	"io"
	"os/exec"
)

// TODO: ConPTY support for Windows 10+. Until then Run falls back to pipes.
var ptySupported = false

func startPTY(cmd *exec.Cmd) (io.ReadCloser, error) {
	return nil, errors.New("pty mode is not supported on windows")
}
