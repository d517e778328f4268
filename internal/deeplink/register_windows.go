//go:build windows

package deeplink

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sys/windows/registry"
)

// Register writes the per-user URL protocol keys under
// HKCU\Software\Classes\<scheme>.
func Register(name, scheme, exe string, log *zap.Logger) error {
	root, _, err := registry.CreateKey(registry.CURRENT_USER, `Software\Classes\`+scheme, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("create scheme key: %w", err)
	}
	defer root.Close()
	if err := root.SetStringValue("", "URL:"+name); err != nil {
		return err
	}
	if err := root.SetStringValue("URL Protocol", ""); err != nil {
		return err
	}

	icon, _, err := registry.CreateKey(root, "DefaultIcon", registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("create icon key: %w", err)
	}
	defer icon.Close()
	if err := icon.SetStringValue("", `"`+exe+`",0`); err != nil {
		return err
	}

	command, _, err := registry.CreateKey(root, `shell\open\command`, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("create command key: %w", err)
	}
	defer command.Close()
	if err := command.SetStringValue("", `"`+exe+`" "%1"`); err != nil {
		return err
	}

	log.Info("registered scheme handler", zap.String("scheme", scheme), zap.String("exe", exe))
	return nil
}
