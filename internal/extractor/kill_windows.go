//go:build windows

package extractor

import (
	"os/exec"
	"strconv"
)

func configureSysProcAttr(_ *exec.Cmd) {}

// killTree force-kills the process and all descendants; on Windows a plain
// kill leaves the tool's ffmpeg children running.
func killTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid)).Run()
}
