//go:build !unix

package ffmpeg

import (
	"os/exec"
	"time"
)

func setProcessGroup(*exec.Cmd) {}

func terminateGroup(cmd *exec.Cmd, _ time.Duration) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
