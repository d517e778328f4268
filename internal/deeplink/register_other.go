//go:build !linux && !windows

package deeplink

import "go.uber.org/zap"

// Register is a no-op where the application bundle declares its schemes.
func Register(name, scheme, exe string, log *zap.Logger) error {
	log.Debug("scheme registration handled by the app bundle", zap.String("scheme", scheme))
	return nil
}
