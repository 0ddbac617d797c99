package screenshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPageTimeout = 60 * time.Second
	DefaultSettleDelay = time.Second

	// Snowball shows a login dialog over posts for anonymous visitors.
	loginModalClose = "div.modal.modal__login>a.close"
)

var ErrBrowserNotFound = errors.New("rod browser dependency not found")

// RodOptions configures a RodCapturer.
type RodOptions struct {
	// BrowserBin is the Chromium executable. Looked up when empty.
	BrowserBin string
	// PageTimeout bounds one capture from navigation to screenshot.
	PageTimeout time.Duration
	// SettleDelay is waited after the page went idle, for lazy content.
	SettleDelay time.Duration
}

// RodCapturer implements Capturer with a headless Chromium driven by rod.
// A fresh browser is launched for every capture.
type RodCapturer struct {
	log     logrus.FieldLogger
	bin     string
	timeout time.Duration
	settle  time.Duration
}

// NewRodCapturer creates a new capturer instance.
func NewRodCapturer(opts RodOptions, logger logrus.FieldLogger) *RodCapturer {
	timeout := opts.PageTimeout
	if timeout <= 0 {
		timeout = DefaultPageTimeout
	}
	settle := opts.SettleDelay
	if settle < 0 {
		settle = 0
	}
	return &RodCapturer{
		log:     logger.WithField("component", "screenshot"),
		bin:     opts.BrowserBin,
		timeout: timeout,
		settle:  settle,
	}
}

// CapturePage takes a full page PNG screenshot of url.
func (s *RodCapturer) CapturePage(ctx context.Context, url string) (img []byte, err error) {
	log := s.log.WithField("url", url)
	log.Debug("Taking snapshot")

	// --- Browser Setup ---
	path := s.bin
	if path == "" {
		var exists bool
		path, exists = launcher.LookPath()
		if !exists {
			log.Error("Cannot find browser executable for rod")
			return nil, ErrBrowserNotFound
		}
	}
	l := launcher.New().Bin(path).Headless(true).NoSandbox(true)
	defer l.Cleanup()

	u, err := l.Launch()
	if err != nil {
		log.WithError(err).Error("Failed to launch rod browser")
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	browser := rod.New().ControlURL(u)
	if err = browser.Connect(); err != nil {
		log.WithError(err).Error("Failed to connect to rod browser")
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	defer func() {
		if closeErr := browser.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("Error closing rod browser instance")
		}
	}()

	// --- Page Navigation and Capture ---
	pageCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	page, err := browser.Context(pageCtx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		log.WithError(err).Error("Failed to create rod page")
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	if err = page.WaitLoad(); err != nil {
		if errors.Is(pageCtx.Err(), context.DeadlineExceeded) {
			log.WithError(pageCtx.Err()).Warn("Snapshot timed out")
			return nil, fmt.Errorf("snapshot timed out for %s: %w", url, pageCtx.Err())
		}
		log.WithError(err).Error("Failed to wait for page load")
		return nil, fmt.Errorf("failed waiting for page load: %w", err)
	}
	if err = page.WaitIdle(s.timeout); err != nil {
		log.WithError(err).Debug("Page did not go idle, capturing anyway")
	}

	select {
	case <-time.After(s.settle):
	case <-pageCtx.Done():
		return nil, fmt.Errorf("snapshot cancelled for %s: %w", url, pageCtx.Err())
	}

	s.closeLoginModal(page, log)

	img, err = page.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		log.WithError(err).Error("Failed to take snapshot")
		return nil, fmt.Errorf("failed to take screenshot of %s: %w", url, err)
	}

	log.WithField("bytes", len(img)).Info("Snapshot has been taken")
	return img, nil
}

func (s *RodCapturer) closeLoginModal(page *rod.Page, log logrus.FieldLogger) {
	has, el, err := page.Has(loginModalClose)
	if err != nil {
		log.WithError(err).Debug("Error searching for login modal")
		return
	}
	if !has {
		return
	}
	if _, err := el.Eval(`() => this.click()`); err != nil {
		log.WithError(err).Warn("Failed to close login modal")
	}
}
