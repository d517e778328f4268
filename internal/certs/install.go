package certs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Installer adds a root certificate to one platform's trust store.
type Installer interface {
	Install(ctx context.Context, rootCAPath string) error
}

type InstallerFunc func(ctx context.Context, rootCAPath string) error

func (f InstallerFunc) Install(ctx context.Context, rootCAPath string) error {
	return f(ctx, rootCAPath)
}

// Runner executes one command and reports a non-zero exit as an error.
type Runner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(out.String()))
	}
	return nil
}

// Installers returns the trust strategies keyed by GOOS.
func Installers(run Runner, lookPath func(string) (string, error), home string) map[string]Installer {
	return map[string]Installer{
		"darwin": InstallerFunc(func(ctx context.Context, root string) error {
			keychain := filepath.Join(home, "Library", "Keychains", "login.keychain-db")
			return run(ctx, "security", "add-trusted-cert", "-d", "-k", keychain, root)
		}),
		"windows": InstallerFunc(func(ctx context.Context, root string) error {
			return run(ctx, "certutil", "-f", "-user", "-addstore", "Root", root)
		}),
		"linux": linuxInstaller{run: run, lookPath: lookPath, home: home},
	}
}

// linuxInstaller tries the system store through passwordless sudo and the
// per-user NSS database used by browsers. Either one succeeding is enough.
type linuxInstaller struct {
	run      Runner
	lookPath func(string) (string, error)
	home     string
}

func (l linuxInstaller) Install(ctx context.Context, root string) error {
	var errs []error
	attempted := false

	if _, err := l.lookPath("sudo"); err == nil {
		attempted = true
		err := l.run(ctx, "sudo", "-n", "install", "-m", "0644", root, "/usr/local/share/ca-certificates/projdocs.crt")
		if err == nil {
			err = l.run(ctx, "sudo", "-n", "update-ca-certificates")
		}
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}

	if _, err := l.lookPath("certutil"); err == nil {
		attempted = true
		nssdb := filepath.Join(l.home, ".pki", "nssdb")
		if err := os.MkdirAll(nssdb, 0o700); err != nil {
			errs = append(errs, err)
		} else if err := l.run(ctx, "certutil", "-d", "sql:"+nssdb, "-A", "-t", "C,,", "-n", "ProjDocs Local Root", "-i", root); err != nil {
			errs = append(errs, err)
		} else {
			return nil
		}
	}

	if !attempted {
		return errors.New("neither sudo nor certutil is available")
	}
	return errors.Join(errs...)
}
