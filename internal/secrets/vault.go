package secrets

import (
	"errors"

	"github.com/zalando/go-keyring"
)

var ErrNotFound = errors.New("secret not found")

type Credential struct {
	Account  string `json:"account"`
	Password string `json:"password"`
}

// Vault is the credential backend behind a Store.
type Vault interface {
	Get(service, account string) (string, error)
	Set(service, account, secret string) error
	Delete(service, account string) error
	List(service string) ([]Credential, error)
}

// KeyringVault stores secrets in the OS credential vault: Keychain on macOS,
// Credential Manager on Windows and the Secret Service on Linux.
type KeyringVault struct {
	// Accounts enumerates the accounts List probes, since the keyring API
	// cannot enumerate a service.
	Accounts []string
}

func (v KeyringVault) Get(service, account string) (string, error) {
	secret, err := keyring.Get(service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	return secret, err
}

func (v KeyringVault) Set(service, account, secret string) error {
	return keyring.Set(service, account, secret)
}

func (v KeyringVault) Delete(service, account string) error {
	err := keyring.Delete(service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (v KeyringVault) List(service string) ([]Credential, error) {
	var out []Credential
	for _, account := range v.Accounts {
		secret, err := v.Get(service, account)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Credential{Account: account, Password: secret})
	}
	return out, nil
}
