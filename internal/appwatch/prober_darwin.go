//go:build darwin

package appwatch

import (
	"bytes"
	"os/exec"
	"strings"
)

type darwinProber struct{}

// frontmostApp asks System Events for the frontmost process name.
func (darwinProber) frontmostApp() (string, error) {
	cmd := exec.Command("osascript", "-e",
		`tell application "System Events" to get name of first application process whose frontmost is true`)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

// newProber creates the platform-specific foreground prober
func newProber() prober { return darwinProber{} }
