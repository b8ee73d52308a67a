//go:build linux

package appwatch

import (
	"os/exec"
	"strings"
)

type linuxProber struct{}

// frontmostApp resolves the active X11 window via xdotool. The window
// class name is stabler than the title, so try it first.
func (linuxProber) frontmostApp() (string, error) {
	if _, err := exec.LookPath("xdotool"); err != nil {
		return "", err
	}

	out, err := exec.Command("xdotool", "getactivewindow", "getwindowclassname").Output()
	if err != nil {
		// Older xdotool builds lack getwindowclassname
		out, err = exec.Command("xdotool", "getactivewindow", "getwindowname").Output()
		if err != nil {
			return "", err
		}
	}
	return strings.TrimSpace(string(out)), nil
}

// newProber creates the platform-specific foreground prober
func newProber() prober { return linuxProber{} }
