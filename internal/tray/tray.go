// Package tray is the menu bar shell around the gateway.
package tray

import (
	"strings"
	"sync"

	"github.com/getlantern/systray"
	"github.com/ncruces/zenity"
	"go.uber.org/zap"

	"projdocs-desktop/internal/auth"
	"projdocs-desktop/internal/model"
)

// StatusText is the first menu line for the given session.
func StatusText(s *model.Session) string {
	if !s.Valid() {
		return "Signed out"
	}
	claims, err := auth.InspectToken(s.Token.AccessToken)
	if err != nil || claims.Email == "" {
		return "Signed in"
	}
	return "Signed in as " + claims.Email
}

// LoginURL is the page "Sign in…" opens: the configured URL, else the
// desktop auth page of the last known web app.
func LoginURL(configured string, s *model.Session) string {
	if configured != "" {
		return configured
	}
	if s != nil && s.URL != "" {
		return strings.TrimRight(s.URL, "/") + "/auth/desktop"
	}
	return ""
}

type Actions struct {
	SignIn    func() error
	SignOut   func() error
	OpenCache func() error
	// Ready runs once the menu is up; Exit runs when it is torn down.
	Ready func()
	Exit  func()
}

type Tray struct {
	Name    string
	Version string
	Actions Actions
	Log     *zap.Logger

	mu      sync.Mutex
	session *model.Session
	status  *systray.MenuItem
	signIn  *systray.MenuItem
	signOut *systray.MenuItem
}

func New(name, version string, actions Actions, log *zap.Logger) *Tray {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tray{Name: name, Version: version, Actions: actions, Log: log.Named("tray")}
}

// Run blocks on the platform event loop until Quit.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetIcon(icon())
	systray.SetTooltip(t.Name + " " + t.Version)

	t.mu.Lock()
	t.status = systray.AddMenuItem(StatusText(t.session), "")
	t.status.Disable()
	systray.AddSeparator()
	t.signIn = systray.AddMenuItem("Sign in…", "Sign in through the web app")
	t.signOut = systray.AddMenuItem("Sign out", "Forget the stored session")
	t.applyLocked()
	t.mu.Unlock()

	openCache := systray.AddMenuItem("Open cache folder", "Show checked-out documents")
	systray.AddSeparator()
	quit := systray.AddMenuItem("Quit", "Quit "+t.Name)

	go func() {
		for {
			select {
			case <-t.signIn.ClickedCh:
				t.run("sign in", t.Actions.SignIn)
			case <-t.signOut.ClickedCh:
				t.run("sign out", t.Actions.SignOut)
			case <-openCache.ClickedCh:
				t.run("open cache folder", t.Actions.OpenCache)
			case <-quit.ClickedCh:
				systray.Quit()
				return
			}
		}
	}()

	if t.Actions.Ready != nil {
		t.Actions.Ready()
	}
}

func (t *Tray) onExit() {
	if t.Actions.Exit != nil {
		t.Actions.Exit()
	}
}

func (t *Tray) run(name string, fn func() error) {
	if fn == nil {
		return
	}
	if err := fn(); err != nil {
		t.Log.Warn(name, zap.Error(err))
	}
}

// SetSession updates the menu for s. It is safe before the menu exists.
func (t *Tray) SetSession(s *model.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session = s
	t.applyLocked()
}

func (t *Tray) applyLocked() {
	if t.status == nil {
		return
	}
	t.status.SetTitle(StatusText(t.session))
	if t.session.Valid() {
		t.signIn.Hide()
		t.signOut.Show()
	} else {
		t.signOut.Hide()
		t.signIn.Show()
	}
}

// Focus surfaces the app after a deep link by posting the current status
// as a desktop notification.
func (t *Tray) Focus() {
	t.mu.Lock()
	text := StatusText(t.session)
	t.mu.Unlock()
	if err := zenity.Notify(text, zenity.Title(t.Name)); err != nil {
		t.Log.Warn("focus", zap.Error(err))
	}
}
