//go:build linux

package deeplink

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

type desktopRegistrar struct {
	dataHome string
	run      func(ctx context.Context, name string, args ...string) error
}

func desktopFileName(scheme string) string {
	return scheme + "-handler.desktop"
}

func desktopEntry(name, scheme, exe string) string {
	var b strings.Builder
	b.WriteString("[Desktop Entry]\n")
	b.WriteString("Type=Application\n")
	fmt.Fprintf(&b, "Name=%s\n", name)
	fmt.Fprintf(&b, "Exec=\"%s\" %%u\n", exe)
	b.WriteString("Terminal=false\n")
	b.WriteString("NoDisplay=true\n")
	fmt.Fprintf(&b, "MimeType=x-scheme-handler/%s;\n", scheme)
	return b.String()
}

func (r desktopRegistrar) register(ctx context.Context, name, scheme, exe string) error {
	dir := filepath.Join(r.dataHome, "applications")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create applications dir: %w", err)
	}
	file := desktopFileName(scheme)
	if err := os.WriteFile(filepath.Join(dir, file), []byte(desktopEntry(name, scheme, exe)), 0o644); err != nil {
		return fmt.Errorf("write desktop entry: %w", err)
	}
	if err := r.run(ctx, "xdg-mime", "default", file, "x-scheme-handler/"+scheme); err != nil {
		return fmt.Errorf("xdg-mime: %w", err)
	}
	return nil
}

func dataHome() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share")
}

// Register makes exe the handler for scheme links for the current user.
func Register(name, scheme, exe string, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r := desktopRegistrar{
		dataHome: dataHome(),
		run: func(ctx context.Context, name string, args ...string) error {
			out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
			if err != nil {
				return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
			}
			return nil
		},
	}
	if err := r.register(ctx, name, scheme, exe); err != nil {
		return err
	}
	log.Info("registered scheme handler", zap.String("scheme", scheme), zap.String("exe", exe))
	return nil
}
