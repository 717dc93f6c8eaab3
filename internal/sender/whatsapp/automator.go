package whatsapp

import (
	"context"
	"time"
)

// Automator is the browser-automation capability the session runs on.
// The production backend is chromedp (see chrome.go); tests use a fake.
type Automator interface {
	// Start launches the automation client. Called once per session.
	Start(ctx context.Context) error

	// Navigate loads url in the session's page.
	Navigate(ctx context.Context, url string) error

	// WaitVisible blocks until selector is visible or timeout expires.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error

	// Click performs a real click on selector.
	Click(ctx context.Context, selector string) error

	// ForceClick triggers selector's click handler programmatically.
	// It reports whether the element existed at all.
	ForceClick(ctx context.Context, selector string) (bool, error)

	// PressEnter sends a keyboard Enter to the focused element.
	PressEnter(ctx context.Context) error

	// Exists reports whether selector is currently present in the DOM.
	Exists(ctx context.Context, selector string) (bool, error)

	// Stop tears the client down. Safe to call on a never-started client.
	Stop(ctx context.Context) error
}
