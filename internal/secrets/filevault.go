package secrets

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"filippo.io/age"
)

// FileVault keeps one age-encrypted JSON document per service under Dir.
// The X25519 identity that decrypts it lives beside it with mode 0600.
// It is the fallback for hosts without a credential service.
type FileVault struct {
	Dir string

	mu       sync.Mutex
	identity *age.X25519Identity
}

func NewFileVault(dir string) *FileVault {
	return &FileVault{Dir: dir}
}

func (v *FileVault) Get(service, account string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.read(service)
	if err != nil {
		return "", err
	}
	secret, ok := entries[account]
	if !ok {
		return "", ErrNotFound
	}
	return secret, nil
}

func (v *FileVault) Set(service, account, secret string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.read(service)
	if err != nil {
		return err
	}
	entries[account] = secret
	return v.write(service, entries)
}

func (v *FileVault) Delete(service, account string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.read(service)
	if err != nil {
		return err
	}
	if _, ok := entries[account]; !ok {
		return ErrNotFound
	}
	delete(entries, account)
	return v.write(service, entries)
}

func (v *FileVault) List(service string) ([]Credential, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.read(service)
	if err != nil {
		return nil, err
	}
	out := make([]Credential, 0, len(entries))
	for account, secret := range entries {
		out = append(out, Credential{Account: account, Password: secret})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out, nil
}

func (v *FileVault) path(service string) string {
	return filepath.Join(v.Dir, service+".age")
}

func (v *FileVault) loadIdentity() (*age.X25519Identity, error) {
	if v.identity != nil {
		return v.identity, nil
	}
	keyPath := filepath.Join(v.Dir, "identity.txt")
	raw, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		identity, err := age.ParseX25519Identity(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("parse vault identity: %w", err)
		}
		v.identity = identity
		return identity, nil
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read vault identity: %w", err)
	}

	if err := os.MkdirAll(v.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generate vault identity: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(identity.String()+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("write vault identity: %w", err)
	}
	v.identity = identity
	return identity, nil
}

func (v *FileVault) read(service string) (map[string]string, error) {
	ciphertext, err := os.ReadFile(v.path(service))
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read vault: %w", err)
	}

	identity, err := v.loadIdentity()
	if err != nil {
		return nil, err
	}
	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypt vault: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decrypt vault: %w", err)
	}

	entries := map[string]string{}
	if err := json.Unmarshal(plaintext, &entries); err != nil {
		return nil, fmt.Errorf("decode vault: %w", err)
	}
	return entries, nil
}

func (v *FileVault) write(service string, entries map[string]string) error {
	identity, err := v.loadIdentity()
	if err != nil {
		return err
	}
	plaintext, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, identity.Recipient())
	if err != nil {
		return fmt.Errorf("encrypt vault: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return fmt.Errorf("encrypt vault: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("encrypt vault: %w", err)
	}

	tmp := v.path(service) + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write vault: %w", err)
	}
	if err := os.Rename(tmp, v.path(service)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write vault: %w", err)
	}
	return nil
}
