package host

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// SelfLauncher re-runs the current executable as the presentation process.
func SelfLauncher(configPath string) LaunchFunc {
	return func(ctx context.Context, port int) (*exec.Cmd, error) {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		args := []string{"ui", "--aschild", "--port", strconv.Itoa(port)}
		if configPath != "" {
			args = append(args, "--config", configPath)
		}
		return CommandLauncher(exe, args...)(ctx, port)
	}
}

// CommandLauncher runs a fixed command. The child is detached from ctx:
// it lives until the session uninstalls or it exits on its own.
func CommandLauncher(name string, args ...string) LaunchFunc {
	return func(_ context.Context, _ int) (*exec.Cmd, error) {
		if name == "" {
			return nil, ErrEmptyCommand
		}
		cmd := exec.Command(name, args...)
		cmd.Env = append(os.Environ(), "VESSEL_CHILD=1")
		return cmd, nil
	}
}
