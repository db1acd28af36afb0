package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/aide-chat/aide/internal/toolkit"
)

const maxShellOutput = 16 * 1024

// Shell returns the shell command tool. Commands run through `sh -c` with
// the given timeout; stdout and stderr are combined into the result.
func Shell(timeout time.Duration) toolkit.NativeFunction {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return toolkit.NativeFunction{
		Name:        "shell",
		Description: "Run a shell command and return its combined output.",
		Required: []toolkit.Param{
			{Name: "command", Type: toolkit.TypeString, Description: "The command line to execute."},
		},
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			command, _ := args["command"].(string)

			runCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			cmd := exec.CommandContext(runCtx, "sh", "-c", command)
			var out bytes.Buffer
			cmd.Stdout = &out
			cmd.Stderr = &out
			err := cmd.Run()

			output := strings.TrimRight(out.String(), "\n")
			if len(output) > maxShellOutput {
				output = output[:maxShellOutput] + "\n[truncated]"
			}
			if runCtx.Err() == context.DeadlineExceeded {
				return "", fmt.Errorf("command timed out after %s", timeout)
			}
			if err != nil {
				if output == "" {
					return "", fmt.Errorf("command failed: %w", err)
				}
				return fmt.Sprintf("command failed (%v):\n%s", err, output), nil
			}
			if output == "" {
				return "(no output)", nil
			}
			return output, nil
		},
	}
}
