package certs

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"
)

const (
	RootCAFile = "rootCA.pem"
	KeyFile    = "localhost.key.pem"
	CertFile   = "localhost.cert.pem"
)

var ErrMissingResources = errors.New("missing certificate resources")

type KeyPair struct {
	KeyPEM  []byte
	CertPEM []byte
}

func (k KeyPair) TLSCertificate() (tls.Certificate, error) {
	return tls.X509KeyPair(k.CertPEM, k.KeyPEM)
}

type TrustResult struct {
	AlreadyTrusted bool
	Installed      bool
	Declined       bool
	Err            error
}

// Manager loads the localhost key pair and installs the bundled root CA
// into the user's trust store once.
type Manager struct {
	Dir        string
	MarkerPath string
	Prompter   Prompter
	// Installer is nil on platforms without a trust strategy.
	Installer Installer
	Log       *zap.Logger
	GOOS      string
	Addr      string
}

func NewManager(dir, markerPath, addr string, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	home, _ := os.UserHomeDir()
	return &Manager{
		Dir:        dir,
		MarkerPath: markerPath,
		Prompter:   DialogPrompter{},
		Installer:  Installers(execRunner, exec.LookPath, home)[runtime.GOOS],
		Log:        log.Named("certs"),
		GOOS:       runtime.GOOS,
		Addr:       addr,
	}
}

// Load reads the key pair, tightening file modes where the platform has them.
func (m *Manager) Load() (KeyPair, error) {
	root := filepath.Join(m.Dir, RootCAFile)
	keyPath := filepath.Join(m.Dir, KeyFile)
	certPath := filepath.Join(m.Dir, CertFile)

	for _, p := range []string{root, keyPath, certPath} {
		if _, err := os.Stat(p); err != nil {
			return KeyPair{}, fmt.Errorf("%w in %s: expected %s, %s and %s", ErrMissingResources, m.Dir, RootCAFile, KeyFile, CertFile)
		}
	}

	if m.GOOS != "windows" {
		if err := os.Chmod(keyPath, 0o600); err != nil {
			m.Log.Warn("chmod key", zap.Error(err))
		}
		if err := os.Chmod(certPath, 0o644); err != nil {
			m.Log.Warn("chmod cert", zap.Error(err))
		}
	}

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return KeyPair{}, fmt.Errorf("read key: %w", err)
	}
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return KeyPair{}, fmt.Errorf("read cert: %w", err)
	}
	return KeyPair{KeyPEM: keyPEM, CertPEM: certPEM}, nil
}

func (m *Manager) Trusted() bool {
	_, err := os.Stat(m.MarkerPath)
	return err == nil
}

// Trust returns the key pair immediately and runs the one-time trust flow
// in the background. The channel yields exactly one result.
func (m *Manager) Trust(ctx context.Context) (KeyPair, <-chan TrustResult, error) {
	pair, err := m.Load()
	if err != nil {
		return KeyPair{}, nil, err
	}

	results := make(chan TrustResult, 1)
	if m.Trusted() {
		results <- TrustResult{AlreadyTrusted: true}
		close(results)
		return pair, results, nil
	}

	go func() {
		defer close(results)
		res := m.trustOnce(ctx)
		switch {
		case res.Err != nil:
			m.Log.Warn("root trust step failed", zap.Error(res.Err))
		case res.Declined:
			m.Log.Warn("root trust declined")
		case res.Installed:
			m.Log.Info("root ca trusted")
		}
		results <- res
	}()
	return pair, results, nil
}

func (m *Manager) trustOnce(ctx context.Context) TrustResult {
	if m.Installer == nil {
		return TrustResult{Err: fmt.Errorf("no trust strategy for %s", m.GOOS)}
	}

	message := fmt.Sprintf("ProjDocs needs to add a local root certificate so your system trusts https://%s.\n\n"+
		"You can remove it later via Keychain Access / Certificate Manager. This is only used for local HTTPS.", m.Addr)
	ok, err := m.Prompter.Confirm("Trust Local HTTPS Certificate", message)
	if err != nil {
		return TrustResult{Err: fmt.Errorf("consent prompt: %w", err)}
	}
	if !ok {
		return TrustResult{Declined: true}
	}

	if err := m.Installer.Install(ctx, filepath.Join(m.Dir, RootCAFile)); err != nil {
		return TrustResult{Err: err}
	}
	if err := m.writeMarker(); err != nil {
		return TrustResult{Installed: true, Err: err}
	}
	return TrustResult{Installed: true}
}

func (m *Manager) writeMarker() error {
	if err := os.MkdirAll(filepath.Dir(m.MarkerPath), 0o755); err != nil {
		return fmt.Errorf("create marker dir: %w", err)
	}
	f, err := os.OpenFile(m.MarkerPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	defer f.Close()
	_, err = f.WriteString(time.Now().UTC().Format(time.RFC3339))
	return err
}
