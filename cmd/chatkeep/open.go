package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/hpungsan/chatkeep/internal/ops"
)

// runCommand runs an external program attached to the terminal.
// Tests replace it.
var runCommand = func(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// openInEditor opens paths in editor. The editor setting may carry
// arguments, e.g. "code --wait".
func openInEditor(editor string, paths ...string) error {
	fields := strings.Fields(editor)
	if len(fields) == 0 {
		fields = []string{"vim"}
	}
	args := append(fields[1:], paths...)
	if err := runCommand(fields[0], args...); err != nil {
		var notFound *exec.Error
		if errors.As(err, &notFound) {
			return fmt.Errorf("editor %q not found; set $EDITOR to your preferred editor", fields[0])
		}
		return fmt.Errorf("opening editor: %w", err)
	}
	return nil
}

// openInBrowser opens path with the platform's default handler.
func openInBrowser(path string) error {
	switch runtime.GOOS {
	case "darwin":
		return runCommand("open", path)
	case "windows":
		return runCommand("cmd", "/c", "start", "", path)
	default:
		return runCommand("xdg-open", path)
	}
}

// openView opens a rendered view the way its format is best read.
func openView(editor string, format ops.ViewFormat, path string) error {
	if format == ops.FormatHTML {
		return openInBrowser(path)
	}
	return openInEditor(editor, path)
}
