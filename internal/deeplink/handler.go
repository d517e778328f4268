package deeplink

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"projdocs-desktop/internal/model"
)

type SessionWriter interface {
	SetSession(session *model.Session) error
}

// Verifier checks the access token before a session is stored.
type Verifier interface {
	Verify(ctx context.Context, session *model.Session) error
}

type Handler struct {
	Scheme   string
	Store    SessionWriter
	Verifier Verifier
	// Focus brings the primary window forward. It runs for every link.
	Focus func()
	Log   *zap.Logger
}

func (h *Handler) Handle(ctx context.Context, link string) error {
	err := h.handle(ctx, link)
	if h.Focus != nil {
		h.Focus()
	}
	return err
}

func (h *Handler) handle(ctx context.Context, link string) error {
	log := h.Log
	if log == nil {
		log = zap.NewNop()
	}

	session, err := Parse(link, h.Scheme)
	switch {
	case errors.Is(err, ErrIgnored):
		log.Warn("deep link ignored", zap.Error(err))
		return err
	case err != nil:
		log.Warn("deep link rejected", zap.Error(err))
		return err
	}

	if h.Verifier != nil {
		if err := h.Verifier.Verify(ctx, session); err != nil {
			log.Warn("deep link token rejected", zap.Error(err))
			return errors.Join(ErrInvalid, err)
		}
	}

	if err := h.Store.SetSession(session); err != nil {
		log.Error("store session", zap.Error(err))
		return err
	}
	log.Info("signed in", zap.String("backend", session.Supabase.URL))
	return nil
}
