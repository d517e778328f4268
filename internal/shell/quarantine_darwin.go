//go:build darwin

package shell

import (
	"errors"

	"golang.org/x/sys/unix"
)

var quarantineAttrs = []string{"com.apple.quarantine", "com.apple.provenance"}

// StripQuarantine removes the Gatekeeper attributes that stop Word from
// opening a freshly downloaded document for editing.
func StripQuarantine(path string) error {
	var errs []error
	for _, attr := range quarantineAttrs {
		if err := unix.Removexattr(path, attr); err != nil && !errors.Is(err, unix.ENOATTR) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
