package coretools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// RodRenderer renders pages in a headless Chrome started on first use.
type RodRenderer struct {
	// ChromePath overrides browser discovery.
	ChromePath string
	// NoSandbox disables Chrome's sandbox, needed when running as root.
	NoSandbox bool
	// Settle is how long the page must be network idle before extraction.
	Settle time.Duration

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
}

// NewRodRenderer creates a renderer; no browser is started until Render.
func NewRodRenderer(chromePath string, noSandbox bool) *RodRenderer {
	return &RodRenderer{ChromePath: chromePath, NoSandbox: noSandbox, Settle: time.Second}
}

func (r *RodRenderer) connect() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return r.browser, nil
	}

	l := launcher.New().Headless(true)
	if r.NoSandbox {
		l = l.NoSandbox(true)
	}
	if r.ChromePath != "" {
		l = l.Bin(r.ChromePath)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to chrome: %w", err)
	}

	log.Info().Str("control_url", controlURL).Msg("Headless browser started")
	r.launcher = l
	r.browser = browser
	return browser, nil
}

// Render navigates to url and returns the page HTML once loaded.
func (r *RodRenderer) Render(ctx context.Context, url string) (string, error) {
	browser, err := r.connect()
	if err != nil {
		return "", err
	}

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return "", fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("page load failed: %w", err)
	}
	if r.Settle > 0 {
		_ = page.WaitIdle(r.Settle)
	}
	return page.HTML()
}

// Close stops the browser if it was started.
func (r *RodRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
	}
	if r.launcher != nil {
		r.launcher.Kill()
		r.launcher = nil
	}
	return err
}
