package secrets

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"projdocs-desktop/internal/model"
)

type EventKind string

const (
	EventSet    EventKind = "set"
	EventRemove EventKind = "remove"
)

// Event is delivered to subscribers after every write. Session is the
// decoded value now stored, or nil when the store is empty or invalid.
type Event struct {
	Kind    EventKind
	Session *model.Session
}

// Store persists the desktop session under a fixed service and account.
type Store struct {
	vault   Vault
	service string
	account string
	log     *zap.Logger

	mu        sync.Mutex
	nextID    int
	listeners map[int]func(Event)
}

func NewStore(vault Vault, service, account string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		vault:     vault,
		service:   service,
		account:   account,
		log:       log.Named("secrets"),
		listeners: make(map[int]func(Event)),
	}
}

// Raw returns the stored text, or ErrNotFound.
func (s *Store) Raw() (string, error) {
	return s.vault.Get(s.service, s.account)
}

// Get returns the stored session, or nil when nothing usable is stored.
// Corrupt or partially populated entries read as absent.
func (s *Store) Get() *model.Session {
	raw, err := s.Raw()
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn("read session", zap.Error(err))
		}
		return nil
	}
	return s.decode(raw)
}

func (s *Store) Set(raw string) error {
	if err := s.vault.Set(s.service, s.account, raw); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	s.notify(Event{Kind: EventSet, Session: s.decode(raw)})
	return nil
}

// SetSession encodes and stores session.
func (s *Store) SetSession(session *model.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.Set(string(data))
}

// Remove deletes the stored session. Removing nothing is not an error.
func (s *Store) Remove() error {
	if err := s.vault.Delete(s.service, s.account); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("remove session: %w", err)
	}
	s.notify(Event{Kind: EventRemove})
	return nil
}

func (s *Store) List() ([]Credential, error) {
	return s.vault.List(s.service)
}

// Subscribe registers fn for change events and returns a func that
// unregisters it.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) decode(raw string) *model.Session {
	if raw == "" {
		return nil
	}
	var session model.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		s.log.Warn("stored session is not valid json", zap.Error(err))
		return nil
	}
	if !session.Valid() {
		s.log.Warn("stored session is incomplete")
		return nil
	}
	return &session
}

func (s *Store) notify(ev Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		s.call(fn, ev)
	}
}

func (s *Store) call(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session listener panicked", zap.Any("panic", r))
		}
	}()
	fn(ev)
}
