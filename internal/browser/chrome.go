package browser

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// userAgents is a small pool of real desktop browser strings, rotated at
// driver construction (not per-call, per the stealth posture).
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// viewportRange bounds the randomised viewport chosen at construction.
type viewportRange struct{ minW, maxW, minH, maxH int }

var defaultViewportRange = viewportRange{minW: 1280, maxW: 1920, minH: 800, maxH: 1080}

// antiAutomationScript unsets the automation-indicator properties Chrome
// exposes to naive fingerprinting scripts.
const antiAutomationScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
`

// ChromeConfig configures a ChromeDriver.
type ChromeConfig struct {
	// DisplayNum is the X display passed through to Chrome when running
	// headful under Xvfb (empty runs true headless).
	DisplayNum string

	// ProxySOCKS5, when non-empty, routes all Chrome traffic through this
	// loopback SOCKS5 endpoint, e.g. "socks5://127.0.0.1:1080".
	ProxySOCKS5 string

	// NavigateTimeout bounds Open. Defaults to 30s per the timeout table.
	NavigateTimeout time.Duration
}

// ChromeDriver drives a headless Chrome instance via chromedp, exposing the
// Driver contract over goquery-parsed rendered HTML.
type ChromeDriver struct {
	cfg    ChromeConfig
	rng    *rand.Rand
	cancel context.CancelFunc
	ctx    context.Context
}

// NewChromeDriver builds a ChromeDriver. The underlying Chrome process is
// launched lazily on first Open.
func NewChromeDriver(cfg ChromeConfig) *ChromeDriver {
	if cfg.NavigateTimeout <= 0 {
		cfg.NavigateTimeout = 30 * time.Second
	}
	return &ChromeDriver{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
}

func (d *ChromeDriver) ensureStarted() {
	if d.ctx != nil {
		return
	}

	ua := userAgents[d.rng.IntN(len(userAgents))]
	vw := defaultViewportRange.minW + d.rng.IntN(defaultViewportRange.maxW-defaultViewportRange.minW)
	vh := defaultViewportRange.minH + d.rng.IntN(defaultViewportRange.maxH-defaultViewportRange.minH)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.cfg.DisplayNum == ""),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-features", "Translate,BackForwardCache"),
		chromedp.UserAgent(ua),
		chromedp.WindowSize(vw, vh),
	)
	if d.cfg.ProxySOCKS5 != "" {
		opts = append(opts, chromedp.ProxyServer(d.cfg.ProxySOCKS5))
	}
	if d.cfg.DisplayNum != "" {
		opts = append(opts, chromedp.Env("DISPLAY="+d.cfg.DisplayNum))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, ctxCancel := chromedp.NewContext(allocCtx)

	d.ctx = ctx
	d.cancel = func() {
		ctxCancel()
		allocCancel()
	}
}

// Open navigates to url, injects the anti-automation script, and waits for
// the document to settle. It gives up after NavigateTimeout or as soon as
// ctx is done, whichever comes first.
func (d *ChromeDriver) Open(ctx context.Context, url string) error {
	d.ensureStarted()
	runCtx, cancel := context.WithTimeout(d.ctx, d.cfg.NavigateTimeout)
	defer cancel()
	stopWatch := context.AfterFunc(ctx, cancel)
	defer stopWatch()

	err := chromedp.Run(runCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(antiAutomationScript).Do(ctx)
			return err
		}),
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	)
	if err != nil {
		return fmt.Errorf("browser: open %s: %w", url, err)
	}
	return nil
}

// Source returns document.documentElement.outerHTML.
func (d *ChromeDriver) Source(ctx context.Context) (string, error) {
	var html string
	if err := chromedp.Run(d.ctx, chromedp.OuterHTML("html", &html)); err != nil {
		return "", fmt.Errorf("browser: outer html: %w", err)
	}
	return html, nil
}

func (d *ChromeDriver) doc(ctx context.Context) (*goquery.Document, error) {
	html, err := d.Source(ctx)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

type goqueryElement struct{ sel *goquery.Selection }

func (e goqueryElement) Text() string { return strings.TrimSpace(e.sel.Text()) }

// FindAll parses the current source and returns every element matching css.
func (d *ChromeDriver) FindAll(ctx context.Context, css string) ([]Element, error) {
	doc, err := d.doc(ctx)
	if err != nil {
		return nil, fmt.Errorf("browser: find all %s: %w", css, err)
	}
	sel := doc.Find(css)
	out := make([]Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, goqueryElement{sel: s})
	})
	return out, nil
}

// Find returns the first element matching css, or nil.
func (d *ChromeDriver) Find(ctx context.Context, css string) (Element, error) {
	doc, err := d.doc(ctx)
	if err != nil {
		return nil, fmt.Errorf("browser: find %s: %w", css, err)
	}
	sel := doc.Find(css).First()
	if sel.Length() == 0 {
		return nil, nil
	}
	return goqueryElement{sel: sel}, nil
}

// Exists reports whether css matches anything in the current source.
func (d *ChromeDriver) Exists(ctx context.Context, css string) (bool, error) {
	doc, err := d.doc(ctx)
	if err != nil {
		return false, fmt.Errorf("browser: exists %s: %w", css, err)
	}
	return doc.Find(css).Length() > 0, nil
}

// consentSelectors are known GDPR consent button ids/classes seen on the
// target site and common CMPs, tried in order.
var consentSelectors = []string{
	"#onetrust-accept-btn-handler",
	"#didomi-notice-agree-button",
	".cookie-consent-accept",
}

// DismissConsent best-effort clicks the first matching consent button.
// Any failure is swallowed: this is best-effort by contract.
func (d *ChromeDriver) DismissConsent(ctx context.Context) {
	if d.ctx == nil {
		return
	}
	for _, sel := range consentSelectors {
		clickCtx, cancel := context.WithTimeout(d.ctx, 2*time.Second)
		err := chromedp.Run(clickCtx, chromedp.Click(sel, chromedp.ByQuery))
		cancel()
		if err == nil {
			return
		}
	}
}

// ScrollTo scrolls the first element matching css into view.
func (d *ChromeDriver) ScrollTo(ctx context.Context, css string) error {
	if d.ctx == nil {
		return nil
	}
	if err := chromedp.Run(d.ctx, chromedp.ScrollIntoView(css, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("browser: scroll to %s: %w", css, err)
	}
	return nil
}

// SetProxy sets the SOCKS5 endpoint used on the next launch. If Chrome is
// already running, it takes effect on the next Rebuild.
func (d *ChromeDriver) SetProxy(proxy string) {
	d.cfg.ProxySOCKS5 = proxy
}

// Rebuild tears down the current Chrome process and lazily relaunches on
// next Open, picking a fresh user-agent/viewport pair.
func (d *ChromeDriver) Rebuild(ctx context.Context) error {
	if d.cancel != nil {
		d.cancel()
	}
	d.ctx = nil
	d.cancel = nil
	return nil
}

// Close releases the underlying Chrome process.
func (d *ChromeDriver) Close(ctx context.Context) error {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
		d.ctx = nil
	}
	return nil
}
