package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/chromedp"

	"github.com/couchcryptid/traffic-incident-ingest/internal/config"
)

// ErrClosed is returned by NewPage after Close.
var ErrClosed = errors.New("browser is closed")

// startFunc launches a browser and returns its root context and a shutdown func.
type startFunc func(opts []chromedp.ExecAllocatorOption, logger *slog.Logger) (context.Context, func() error, error)

// Browser is a process-wide headless Chrome instance. It is started on the
// first NewPage call, shared by every later cycle, and shut down once by Close.
// A browser that died is started again on the next NewPage.
type Browser struct {
	opts   []chromedp.ExecAllocatorOption
	start  startFunc
	logger *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	shutdown func() error
	closed   bool
}

// New creates a Browser for cfg. No process is started until NewPage.
func New(cfg config.WTOPConfig, logger *slog.Logger) *Browser {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	if cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
	}
	return &Browser{
		opts:   opts,
		start:  startChrome,
		logger: logger,
	}
}

// NewPage opens a fresh tab on the shared browser, starting it if needed. The
// returned cancel func closes the tab and must be called exactly once.
func (b *Browser) NewPage() (context.Context, context.CancelFunc, error) {
	root, err := b.ensureStarted()
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := chromedp.NewContext(root)
	return ctx, cancel, nil
}

func (b *Browser) ensureStarted() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if b.ctx != nil {
		if b.ctx.Err() == nil {
			return b.ctx, nil
		}
		// The browser process exited underneath us; release it and start over.
		b.logger.Warn("headless browser is gone, restarting", "error", context.Cause(b.ctx))
		if err := b.shutdown(); err != nil {
			b.logger.Debug("release dead browser", "error", err)
		}
		b.ctx, b.shutdown = nil, nil
	}

	ctx, shutdown, err := b.start(b.opts, b.logger)
	if err != nil {
		return nil, err
	}
	b.ctx, b.shutdown = ctx, shutdown
	b.logger.Info("headless browser started")
	return ctx, nil
}

// Close shuts the browser down. It is safe to call more than once and before
// the browser was ever started.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.shutdown == nil {
		return nil
	}
	err := b.shutdown()
	b.ctx, b.shutdown = nil, nil
	b.logger.Info("headless browser closed")
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

func startChrome(opts []chromedp.ExecAllocatorOption, logger *slog.Logger) (context.Context, func() error, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Debug("chromedp", "detail", fmt.Sprintf(format, args...))
		}),
	)

	// Run with no actions allocates the browser process.
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		return nil, nil, fmt.Errorf("start browser: %w", err)
	}

	shutdown := func() error {
		err := chromedp.Cancel(ctx)
		cancel()
		allocCancel()
		return err
	}
	return ctx, shutdown, nil
}
