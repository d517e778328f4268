package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ncruces/zenity"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"projdocs-desktop/internal/auth"
	"projdocs-desktop/internal/backend"
	"projdocs-desktop/internal/cache"
	"projdocs-desktop/internal/certs"
	"projdocs-desktop/internal/config"
	"projdocs-desktop/internal/deeplink"
	"projdocs-desktop/internal/handler"
	"projdocs-desktop/internal/hub"
	"projdocs-desktop/internal/instance"
	"projdocs-desktop/internal/model"
	"projdocs-desktop/internal/secrets"
	"projdocs-desktop/internal/server"
	"projdocs-desktop/internal/shell"
	"projdocs-desktop/internal/tray"
)

type app struct {
	cfg      config.Config
	log      *zap.Logger
	listener *instance.Listener
	store    *secrets.Store
	sessions *auth.Sessions
	hub      *hub.Hub
	opener   *shell.SystemOpener
	server   *server.Server
	links    *deeplink.Handler
	tray     *tray.Tray
}

func newVault(cfg config.Config) secrets.Vault {
	if cfg.Vault == "file" {
		return secrets.NewFileVault(cfg.VaultDir())
	}
	return secrets.KeyringVault{Accounts: []string{cfg.AccountID}}
}

func newApp(cfg config.Config, log *zap.Logger, listener *instance.Listener) (*app, error) {
	a := &app{
		cfg:      cfg,
		log:      log,
		listener: listener,
		hub:      hub.New(),
		opener:   shell.NewSystemOpener(),
	}
	a.store = secrets.NewStore(newVault(cfg), cfg.ServiceID, cfg.AccountID, log)
	a.sessions = auth.NewSessions(a.store.Get())
	a.tray = tray.New(appName, version, tray.Actions{
		SignIn:    a.signIn,
		SignOut:   a.store.Remove,
		OpenCache: a.openCache,
	}, log)
	a.tray.SetSession(a.sessions.Current())
	a.store.Subscribe(a.onSessionChange)

	if claims, err := auth.InspectToken(tokenOf(a.sessions.Current())); err == nil && auth.Expired(claims, time.Now()) {
		log.Warn("stored access token has expired; sign in again", zap.Time("expires_at", claims.ExpiresAt()))
	}

	var verifier deeplink.Verifier
	if cfg.VerifyTokens {
		verifier = deeplink.NewOIDCVerifier(cfg.UpstreamTimeout())
	}
	a.links = &deeplink.Handler{
		Scheme:   cfg.Scheme,
		Store:    a.store,
		Verifier: verifier,
		Focus:    a.tray.Focus,
		Log:      log.Named("deeplink"),
	}

	trustCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	manager := certs.NewManager(cfg.CertDir, cfg.MarkerPath(), cfg.Addr(), log)
	pair, trust, err := manager.Trust(trustCtx)
	if err != nil {
		cancel()
		return nil, err
	}
	go func() {
		<-trust
		cancel()
	}()
	cert, err := pair.TLSCertificate()
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}

	backendOpts := backend.Options{InsecureSkipVerify: cfg.InsecureUpstream, Timeout: cfg.UpstreamTimeout()}
	router := server.NewRouter(server.Deps{
		Config:   cfg,
		Sessions: a.sessions,
		Secrets:  a.store,
		Hub:      a.hub,
		Backends: func(s *model.Session) (handler.Backend, error) {
			c, err := backend.New(s, backendOpts)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		Cache:   cache.New(cfg.CacheDir()),
		Opener:  a.opener,
		Version: handler.VersionHandler{Name: appName, Version: version, Commit: commit},
		Log:     log,
	})
	a.server = server.New(cfg.Addr(), router, cert, func() { a.hub.CloseAll("") }, log)
	return a, nil
}

func tokenOf(s *model.Session) string {
	if s == nil {
		return ""
	}
	return s.Token.AccessToken
}

// onSessionChange swaps the live session and closes realtime bridges that
// were opened with a different credential.
func (a *app) onSessionChange(ev secrets.Event) {
	if a.sessions.Set(ev.Session) {
		if n := a.hub.CloseAll(auth.CredentialKey(ev.Session)); n > 0 {
			a.log.Info("closed realtime bridges after session change", zap.Int("count", n))
		}
	}
	a.tray.SetSession(ev.Session)
}

func (a *app) signIn() error {
	target := tray.LoginURL(a.cfg.LoginURL, a.sessions.Current())
	if target == "" {
		return errors.New("no login url configured; set login_url")
	}
	return a.opener.Open(target)
}

func (a *app) openCache() error {
	dir := a.cfg.CacheDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return a.opener.Open(dir)
}

func (a *app) handleLinks(ctx context.Context, args []string) {
	if link, ok := deeplink.FindLink(args, a.cfg.Scheme); ok {
		_ = a.links.Handle(ctx, link)
	}
}

func (a *app) run(ctx context.Context, headless bool, args []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	events := deeplink.URLEvents(ctx)

	g.Go(func() error {
		return a.listener.Serve(ctx)
	})
	g.Go(func() error {
		for msg := range a.listener.Messages() {
			if _, ok := deeplink.FindLink(msg.Args, a.cfg.Scheme); !ok {
				a.tray.Focus()
				continue
			}
			a.handleLinks(ctx, msg.Args)
		}
		return nil
	})
	g.Go(func() error {
		for link := range events {
			_ = a.links.Handle(ctx, link)
		}
		return nil
	})

	start := func() error {
		if err := a.server.Start(ctx); err != nil {
			return err
		}
		a.handleLinks(ctx, args)
		return nil
	}

	if headless {
		g.Go(func() error {
			if err := start(); err != nil {
				return err
			}
			<-ctx.Done()
			return a.stop()
		})
		return g.Wait()
	}

	startErr := make(chan error, 1)
	a.tray.Actions.Ready = func() {
		if err := start(); err != nil {
			startErr <- err
			if errors.Is(err, server.ErrPortInUse) {
				_ = zenity.Error(fmt.Sprintf("Port %d is already in use on %s.", a.cfg.Port, a.cfg.Host), zenity.Title(appName))
			}
			a.tray.Quit()
		}
	}
	a.tray.Actions.Exit = func() {
		cancel()
		_ = a.stop()
	}
	go func() {
		<-ctx.Done()
		a.tray.Quit()
	}()

	// The tray owns the main thread until Quit.
	a.tray.Run()
	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	select {
	case err := <-startErr:
		return err
	default:
		return nil
	}
}

func (a *app) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.server.Stop(ctx)
}
