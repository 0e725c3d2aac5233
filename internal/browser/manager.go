// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/feedwalker/api/schemas"
	"github.com/xkilldash9x/feedwalker/internal/browser/stealth"
	"github.com/xkilldash9x/feedwalker/internal/config"
	"github.com/xkilldash9x/feedwalker/internal/humanoid"
)

const (
	launchTimeout = 30 * time.Second
	closeTimeout  = 10 * time.Second
)

// Manager owns the Chrome process. Every Page it hands out lives in its own
// browser context, so cookies and storage never leak between sessions.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc

	// CreateBrowserContext/CreateTarget pairs must not interleave.
	contextCreationLock sync.Mutex

	rngMu sync.Mutex
	rng   *rand.Rand

	wg sync.WaitGroup
}

var _ schemas.PageFactory = (*Manager)(nil)

// NewManager launches the browser and verifies it responds.
func NewManager(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (*Manager, error) {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := m.launchBrowser(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return m, nil
}

func (m *Manager) launchBrowser(ctx context.Context) error {
	m.logger.Info("Initializing browser allocator...", zap.Bool("headless", m.cfg.Headless))

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, DefaultAllocatorOptions(m.cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run starts the process; bound it so a missing binary fails fast.
	testCtx, cancelTest := context.WithTimeout(browserCtx, launchTimeout)
	defer cancelTest()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.allocatorCtx, m.allocatorCancel = allocCtx, allocCancel
	m.browserCtx, m.browserCancel = browserCtx, browserCancel
	m.logger.Info("Browser launched successfully and is responsive.")
	return nil
}

// allocatorFlag is one Chrome command line switch.
type allocatorFlag struct {
	Name  string
	Value interface{}
}

// allocatorFlags lists the switches for a configurable, low profile browser instance.
func allocatorFlags(cfg config.BrowserConfig) []allocatorFlag {
	flags := []allocatorFlag{
		{"headless", cfg.Headless},
		// Hides navigator.webdriver and the "controlled by automated software" bar.
		{"enable-automation", false},
		{"disable-blink-features", "AutomationControlled"},
		{"disable-extensions", true},
		{"disable-gpu", cfg.Headless},
		{"mute-audio", true},
		{"autoplay-policy", "no-user-gesture-required"},
	}
	if cfg.IgnoreTLSErrors {
		flags = append(flags,
			allocatorFlag{"ignore-certificate-errors", true},
			allocatorFlag{"allow-insecure-localhost", true},
		)
	}

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			flags = append(flags, allocatorFlag{name, parts[1]})
		} else {
			flags = append(flags, allocatorFlag{name, true})
		}
	}

	// Containers (Docker on Linux) need the sandbox off.
	if runtime.GOOS == "linux" {
		flags = append(flags,
			allocatorFlag{"no-sandbox", true},
			allocatorFlag{"disable-dev-shm-usage", true},
			allocatorFlag{"disable-setuid-sandbox", true},
		)
	}
	return flags
}

// DefaultAllocatorOptions turns the configuration into chromedp allocator options.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	// The defaults are opaque funcs, so enable-automation is overridden rather than filtered.
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range allocatorFlags(cfg) {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if w, h := viewportSize(cfg); w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}
	return opts
}

func viewportSize(cfg config.BrowserConfig) (int, int) {
	if cfg.Viewport == nil {
		return 0, 0
	}
	return cfg.Viewport["width"], cfg.Viewport["height"]
}

// NewPage opens an isolated tab with the stealth persona applied.
func (m *Manager) NewPage(ctx context.Context) (schemas.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled before creating page: %w", err)
	}

	browserContextID, targetID, err := m.createTarget(ctx)
	if err != nil {
		return nil, err
	}

	sessionCtx, cancelSession := chromedp.NewContext(m.browserCtx, chromedp.WithTargetID(targetID))

	m.rngMu.Lock()
	persona := stealth.FromConfig(m.cfg.Persona, m.rng)
	m.rngMu.Unlock()

	p := &Page{
		ctx:              sessionCtx,
		cancel:           cancelSession,
		browserContextID: browserContextID,
		logger:           m.logger.Named("page").With(zap.String("target_id", string(targetID))),
		human:            humanoid.New(m.cfg.Humanoid, m.logger),
		actionTimeout:    orDefault(m.cfg.ActionTimeout, 10*time.Second),
		navTimeout:       orDefault(m.cfg.NavTimeout, 30*time.Second),
		dispose:          m.disposeBrowserContext,
		done:             m.wg.Done,
	}
	m.wg.Add(1)

	setup := chromedp.Tasks{stealth.Apply(persona, p.logger)}
	if w, h := viewportSize(m.cfg); w > 0 && h > 0 {
		setup = append(setup, emulation.SetDeviceMetricsOverride(int64(w), int64(h), 1, false))
	}
	setupCtx, cancelSetup := context.WithTimeout(sessionCtx, launchTimeout)
	defer cancelSetup()
	if err := chromedp.Run(setupCtx, setup); err != nil {
		_ = p.Close(context.Background())
		return nil, fmt.Errorf("failed to set up page: %w", err)
	}

	p.logger.Debug("Page ready.", zap.String("user_agent", persona.UserAgent))
	return p, nil
}

func (m *Manager) createTarget(ctx context.Context) (cdp.BrowserContextID, target.ID, error) {
	m.contextCreationLock.Lock()
	defer m.contextCreationLock.Unlock()

	c := chromedp.FromContext(m.browserCtx)
	if c == nil || c.Browser == nil {
		return "", "", fmt.Errorf("browser is not running")
	}
	execCtx := cdp.WithExecutor(m.browserCtx, c.Browser)

	browserContextID, err := target.CreateBrowserContext().Do(execCtx)
	if err != nil {
		return "", "", fmt.Errorf("failed to create browser context: %w", err)
	}
	targetID, err := target.CreateTarget("about:blank").
		WithBrowserContextID(browserContextID).
		Do(execCtx)
	if err != nil {
		m.disposeBrowserContext(browserContextID)
		return "", "", fmt.Errorf("failed to create target: %w", err)
	}
	return browserContextID, targetID, nil
}

func (m *Manager) disposeBrowserContext(id cdp.BrowserContextID) {
	if m.browserCtx.Err() != nil || id == "" {
		return
	}
	c := chromedp.FromContext(m.browserCtx)
	if c == nil || c.Browser == nil {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(cdp.WithExecutor(m.browserCtx, c.Browser), closeTimeout)
	defer cancel()
	if err := target.DisposeBrowserContext(id).Do(cleanupCtx); err != nil {
		m.logger.Debug("Failed best-effort cleanup of browser context.", zap.String("browserContextID", string(id)), zap.Error(err))
	}
}

// Shutdown waits for open pages to close, then terminates the browser.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Browser manager shutdown initiated. Waiting for open pages to close...")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All pages closed.")
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	if m.browserCancel != nil {
		m.browserCancel()
	}
	if m.allocatorCancel != nil {
		m.allocatorCancel()
		<-m.allocatorCtx.Done()
	}
	return nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
