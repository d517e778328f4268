package shell

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
)

// Opener hands a URI to the OS protocol handler.
type Opener interface {
	Open(uri string) error
}

type SystemOpener struct {
	GOOS string
	// Start launches cmd without waiting for it.
	Start func(cmd *exec.Cmd) error
}

func NewSystemOpener() *SystemOpener {
	return &SystemOpener{
		GOOS: runtime.GOOS,
		Start: func(cmd *exec.Cmd) error {
			if err := cmd.Start(); err != nil {
				return err
			}
			go cmd.Wait()
			return nil
		},
	}
}

func Command(goos, uri string) (*exec.Cmd, error) {
	switch goos {
	case "darwin":
		return exec.Command("open", uri), nil
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", uri), nil
	case "linux", "freebsd", "openbsd", "netbsd":
		return exec.Command("xdg-open", uri), nil
	default:
		return nil, fmt.Errorf("no shell opener for %s", goos)
	}
}

func (o *SystemOpener) Open(uri string) error {
	cmd, err := Command(o.GOOS, uri)
	if err != nil {
		return err
	}
	return o.Start(cmd)
}

// OpenForEdit builds the office URI that opens a local file for editing.
func OpenForEdit(office, path string) string {
	return office + ":ofe|u|file://" + filepath.ToSlash(path)
}

// OpenForView builds the office URI that opens a URL read-only.
func OpenForView(office, url string) string {
	return office + ":ofv|u|" + url
}
