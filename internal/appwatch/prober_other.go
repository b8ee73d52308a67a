//go:build !darwin && !linux

package appwatch

import "errors"

var errUnsupported = errors.New("foreground app detection not supported on this platform")

type noopProber struct{}

func (noopProber) frontmostApp() (string, error) {
	return "", errUnsupported
}

// newProber creates the platform-specific foreground prober
func newProber() prober { return noopProber{} }
