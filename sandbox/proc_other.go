//go:build !unix

package sandbox

import "os/exec"

// isolate falls back to killing the direct child on platforms without
// process groups.
func isolate(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
}
