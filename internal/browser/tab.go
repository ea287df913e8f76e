package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab wraps a Rod page watched by one session. ID is the DevTools target
// id and doubles as the session id.
type Tab struct {
	Page    *rod.Page
	ID      string
	PageURL string
	Label   string // configured page id, empty for discovered tabs
}

// OpenTab creates a new tab, applies stealth when configured and
// navigates to pageURL.
func (m *Manager) OpenTab(ctx context.Context, pageURL, label string) (*Tab, error) {
	b := m.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if m.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		m.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	return &Tab{
		Page:    page,
		ID:      string(page.TargetID),
		PageURL: pageURL,
		Label:   label,
	}, nil
}

// AttachTab takes control of an existing tab without navigating it.
// Stealth scripts only apply from the tab's next navigation.
func (m *Manager) AttachTab(t Target) (*Tab, error) {
	b := m.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	page, err := b.PageFromTarget(proto.TargetTargetID(t.ID))
	if err != nil {
		return nil, fmt.Errorf("browser: attach %s: %w", t.ID, err)
	}
	if m.cfg.Stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			m.cfg.Logger.Warn("browser: stealth script failed", "target", t.ID, "error", err)
		}
	}
	return &Tab{Page: page, ID: t.ID, PageURL: t.URL}, nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
