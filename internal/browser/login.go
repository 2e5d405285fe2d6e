package browser

import (
	"context"
	"time"

	"github.com/unbrowse-ai/unbrowse-core/internal/unbrowseerr"
)

// LoginOutcome is what an interactive login session produces for the
// credential vault, per spec.md §4.12's /v1/auth/login streaming exception.
type LoginOutcome struct {
	Cookies        map[string]string
	LocalStorage   map[string]string
	SessionStorage map[string]string
	SessionFound   bool
}

// LoginCapturer drives the one browser flow the control service exposes as
// a stream rather than a single request/response: a human completes a login
// form in the controlled browser while the service polls for a session to
// appear.
type LoginCapturer struct {
	session      *Session
	pollInterval time.Duration
}

// NewLoginCapturer wraps session for interactive-login polling, checking
// for a session every pollInterval (spec.md §6 names no default; 2s keeps
// the browser responsive without hammering the control channel).
func NewLoginCapturer(session *Session, pollInterval time.Duration) *LoginCapturer {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &LoginCapturer{session: session, pollInterval: pollInterval}
}

// AwaitLogin navigates to loginURL and polls cookies/storage until
// sessionCookie (or any non-empty cookie jar, if sessionCookie is empty)
// appears, the caller's actions complete a flow with no named cookie, or
// ctx's deadline passes.
func (c *LoginCapturer) AwaitLogin(ctx context.Context, loginURL, sessionCookie string) (*LoginOutcome, error) {
	if err := c.session.Navigate(ctx, loginURL); err != nil {
		return nil, err
	}
	if err := c.session.WaitIdle(ctx, 10_000); err != nil {
		return nil, err
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		cookies, err := c.session.Cookies(ctx)
		if err != nil {
			return nil, err
		}
		if sessionEstablished(cookies, sessionCookie) {
			local, err := c.session.Storage(ctx, "local")
			if err != nil {
				return nil, err
			}
			sessionStorage, err := c.session.Storage(ctx, "session")
			if err != nil {
				return nil, err
			}
			return &LoginOutcome{
				Cookies:        cookies,
				LocalStorage:   local,
				SessionStorage: sessionStorage,
				SessionFound:   true,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, unbrowseerr.UpstreamUnavailable("interactive login timed out waiting for a session", ctx.Err())
		case <-ticker.C:
		}
	}
}

func sessionEstablished(cookies map[string]string, sessionCookie string) bool {
	if sessionCookie != "" {
		v, ok := cookies[sessionCookie]
		return ok && v != ""
	}
	return len(cookies) > 0
}
