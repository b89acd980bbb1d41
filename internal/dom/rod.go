package dom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"guidepost-server/internal/config"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// HighlightAttr is the attribute the highlight controller toggles on
// matched elements. The embedding page styles it however it likes.
const HighlightAttr = "data-guidepost-highlight"

// bindAttr carries the component ID so the click bridge can attribute
// clicks back to registrations.
const bindAttr = "data-guidepost-id"

// RodDriver drives a single page over CDP.
type RodDriver struct {
	cfg config.BrowserConfig

	mu         sync.RWMutex
	browser    *rod.Browser
	page       *rod.Page
	controlURL string

	navFns   []func(path string)
	clickFns []func(ev ClickEvent)
}

// NewRodDriver creates an unconnected driver.
func NewRodDriver(cfg config.BrowserConfig) *RodDriver {
	return &RodDriver{cfg: cfg}
}

// Connect attaches to an existing Chrome or launches a new one, then
// opens (or adopts) the page at startURL.
func (d *RodDriver) Connect(ctx context.Context, startURL string) error {
	controlURL := d.cfg.DebuggerURL
	if controlURL == "" && len(d.cfg.Launch) > 0 {
		bin := d.cfg.Launch[0]
		launch := launcher.New().Bin(bin).Headless(d.cfg.IsHeadless())
		for _, rawFlag := range d.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}
		u, err := launch.Launch()
		if err != nil {
			// Fallback: let Rod pick the port and defaults.
			fallback := launcher.New().Bin(bin).Headless(d.cfg.IsHeadless())
			alt, altErr := fallback.Launch()
			if altErr != nil {
				return fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
			}
			u = alt
		}
		controlURL = u
	}
	if controlURL == "" {
		return errors.New("no debugger_url or launch command provided")
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: startURL})
	if err != nil {
		_ = browser.Close()
		return fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             d.cfg.GetViewportWidth(),
		Height:            d.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		log.Printf("warning: failed to set viewport: %v", err)
	}

	d.mu.Lock()
	d.browser = browser
	d.page = page
	d.controlURL = controlURL
	d.mu.Unlock()

	log.Printf("browser connected at %s", controlURL)
	return nil
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (d *RodDriver) ControlURL() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.controlURL
}

// Close shuts down the page and browser.
func (d *RodDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.page != nil {
		_ = d.page.Close()
		d.page = nil
	}
	var err error
	if d.browser != nil {
		err = d.browser.Close()
		d.browser = nil
	}
	d.controlURL = ""
	return err
}

func (d *RodDriver) currentPage() (*rod.Page, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.page == nil {
		return nil, errors.New("browser not connected")
	}
	return d.page, nil
}

// CurrentPath returns the page's pathname.
func (d *RodDriver) CurrentPath() (string, error) {
	page, err := d.currentPage()
	if err != nil {
		return "", err
	}
	info, err := page.Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	u, err := url.Parse(info.URL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	if u.Path == "" {
		return "/", nil
	}
	return u.Path, nil
}

// Context returns the full page context.
func (d *RodDriver) Context() (PageContext, error) {
	page, err := d.currentPage()
	if err != nil {
		return PageContext{}, err
	}

	res, err := page.Eval(`() => ({
		pathname: window.location.pathname,
		search: window.location.search,
		hash: window.location.hash,
		title: document.title
	})`)
	if err != nil {
		return PageContext{}, fmt.Errorf("page context: %w", err)
	}

	var pc PageContext
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return PageContext{}, err
	}
	if err := json.Unmarshal(raw, &pc); err != nil {
		return PageContext{}, err
	}
	return pc, nil
}

// Mark flags every element currently matching selector.
func (d *RodDriver) Mark(selector string) (int, error) {
	return d.setAttr(selector, HighlightAttr, "true")
}

// Unmark clears the highlight flag from elements matching selector.
func (d *RodDriver) Unmark(selector string) (int, error) {
	return d.removeAttr(selector, HighlightAttr)
}

// ClearMarks removes the highlight flag everywhere.
func (d *RodDriver) ClearMarks() error {
	_, err := d.removeAttr("["+HighlightAttr+"]", HighlightAttr)
	return err
}

func (d *RodDriver) setAttr(selector, attr, value string) (int, error) {
	page, err := d.currentPage()
	if err != nil {
		return 0, err
	}
	res, err := page.Eval(`(sel, attr, value) => {
		let n = 0;
		try {
			document.querySelectorAll(sel).forEach(el => { el.setAttribute(attr, value); n++; });
		} catch (e) { return -1; }
		return n;
	}`, selector, attr, value)
	if err != nil {
		return 0, fmt.Errorf("set attribute: %w", err)
	}
	n := res.Value.Int()
	if n < 0 {
		return 0, fmt.Errorf("invalid selector %q", selector)
	}
	return n, nil
}

func (d *RodDriver) removeAttr(selector, attr string) (int, error) {
	page, err := d.currentPage()
	if err != nil {
		return 0, err
	}
	res, err := page.Eval(`(sel, attr) => {
		let n = 0;
		try {
			document.querySelectorAll(sel).forEach(el => { el.removeAttribute(attr); n++; });
		} catch (e) { return -1; }
		return n;
	}`, selector, attr)
	if err != nil {
		return 0, fmt.Errorf("remove attribute: %w", err)
	}
	n := res.Value.Int()
	if n < 0 {
		return 0, fmt.Errorf("invalid selector %q", selector)
	}
	return n, nil
}

// ScrollTo scrolls the first match into view.
func (d *RodDriver) ScrollTo(selector, behavior string) error {
	if behavior != "auto" {
		behavior = "smooth"
	}
	page, err := d.currentPage()
	if err != nil {
		return err
	}
	res, err := page.Eval(`(sel, behavior) => {
		const el = document.querySelector(sel);
		if (!el) return false;
		el.scrollIntoView({ behavior, block: 'center' });
		return true;
	}`, selector, behavior)
	if err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("no element matches %q", selector)
	}
	return nil
}

// Click dispatches a real mouse click on the first match.
func (d *RodDriver) Click(selector string) error {
	page, err := d.currentPage()
	if err != nil {
		return err
	}
	el, err := page.Timeout(2 * time.Second).Element(selector)
	if err != nil {
		return fmt.Errorf("no element matches %q: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

// Navigate drives the page to path (absolute URL or path on the current origin).
func (d *RodDriver) Navigate(path string) error {
	page, err := d.currentPage()
	if err != nil {
		return err
	}

	target := path
	if strings.HasPrefix(path, "/") {
		info, infoErr := page.Info()
		if infoErr != nil {
			return fmt.Errorf("page info: %w", infoErr)
		}
		u, parseErr := url.Parse(info.URL)
		if parseErr != nil {
			return fmt.Errorf("parse page url: %w", parseErr)
		}
		u.Path = path
		u.RawQuery = ""
		u.Fragment = ""
		target = u.String()
	}

	// Same-URL navigation never emits a load event over CDP; skip it.
	if info, infoErr := page.Info(); infoErr == nil && info.URL == target {
		return nil
	}

	if err := page.Timeout(d.cfg.NavigationTimeout()).Navigate(target); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return page.WaitLoad()
}

// Visible reports whether the first match passes the visibility oracle.
func (d *RodDriver) Visible(selector string) (bool, error) {
	page, err := d.currentPage()
	if err != nil {
		return false, err
	}
	res, err := page.Eval(`(sel) => {
		const el = document.querySelector(sel);
		if (!el) return false;
		const rect = el.getBoundingClientRect();
		const style = window.getComputedStyle(el);
		if (style.display === 'none' || style.visibility === 'hidden' || style.opacity === '0') return false;
		if (rect.width <= 0 || rect.height <= 0) return false;
		return rect.left + rect.width > 0 && rect.top + rect.height > 0 &&
			rect.left < window.innerWidth && rect.top < window.innerHeight;
	}`, selector)
	if err != nil {
		return false, fmt.Errorf("visibility check: %w", err)
	}
	return res.Value.Bool(), nil
}

// VisibleElements snapshots up to limit visible elements for agent context.
func (d *RodDriver) VisibleElements(ctx context.Context, limit int) ([]ElementSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	page, err := d.currentPage()
	if err != nil {
		return nil, err
	}

	script := fmt.Sprintf(`
	() => {
		const interactiveTags = new Set(['A', 'BUTTON', 'INPUT', 'SELECT', 'TEXTAREA', 'SUMMARY']);
		const out = [];
		const nodes = document.querySelectorAll('*');
		for (const el of nodes) {
			if (out.length >= %d) break;
			const rect = el.getBoundingClientRect();
			const style = window.getComputedStyle(el);
			const visible = style.display !== 'none' && style.visibility !== 'hidden' &&
				style.opacity !== '0' && rect.width > 0 && rect.height > 0 &&
				rect.left + rect.width > 0 && rect.top + rect.height > 0 &&
				rect.left < window.innerWidth && rect.top < window.innerHeight;
			if (!visible) continue;
			const interactive = interactiveTags.has(el.tagName) ||
				el.hasAttribute('onclick') || el.getAttribute('role') === 'button' ||
				el.tabIndex >= 0;
			out.push({
				id: el.id || '',
				tagName: el.tagName.toLowerCase(),
				textContent: (el.innerText || '').trim().slice(0, 200),
				classNames: Array.from(el.classList),
				role: el.getAttribute('role') || '',
				ariaLabel: el.getAttribute('aria-label') || '',
				ariaDescribedBy: el.getAttribute('aria-describedby') || '',
				placeholder: el.getAttribute('placeholder') || '',
				value: (el.value || '').slice(0, 100),
				type: el.getAttribute('type') || '',
				position: { top: rect.top, left: rect.left, width: rect.width, height: rect.height },
				isInteractive: interactive
			});
		}
		return out;
	}
	`, limit)

	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           script,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil || res == nil {
		return nil, fmt.Errorf("snapshot visible elements: %w", err)
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var snaps []ElementSnapshot
	if err := json.Unmarshal(raw, &snaps); err != nil {
		return nil, fmt.Errorf("decode element snapshot: %w", err)
	}
	return snaps, nil
}

// Bind tags elements matching selector with a component ID.
func (d *RodDriver) Bind(selector, componentID string) error {
	_, err := d.setAttr(selector, bindAttr, componentID)
	return err
}

// Unbind removes the component tag.
func (d *RodDriver) Unbind(componentID string) error {
	_, err := d.removeAttr(fmt.Sprintf(`[%s=%q]`, bindAttr, componentID), bindAttr)
	return err
}

// OnNavigated registers a navigation callback. Must precede Start.
func (d *RodDriver) OnNavigated(fn func(path string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navFns = append(d.navFns, fn)
}

// OnComponentClick registers a click callback. Must precede Start.
func (d *RodDriver) OnComponentClick(fn func(ev ClickEvent)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clickFns = append(d.clickFns, fn)
}

// Start injects the overlay bridge and begins streaming page events.
func (d *RodDriver) Start(ctx context.Context) error {
	page, err := d.currentPage()
	if err != nil {
		return err
	}

	d.injectBridge(ctx, page)

	// Re-inject after every navigation; page scripts do not survive loads.
	waitNav := page.Context(ctx).EachEvent(func(ev *proto.PageFrameNavigated) {
		u, parseErr := url.Parse(ev.Frame.URL)
		path := "/"
		if parseErr == nil && u.Path != "" {
			path = u.Path
		}
		d.injectBridge(ctx, page)
		d.mu.RLock()
		fns := make([]func(string), len(d.navFns))
		copy(fns, d.navFns)
		d.mu.RUnlock()
		for _, fn := range fns {
			fn(path)
		}
	})
	go waitNav()

	go d.drainLoop(ctx, page)
	return nil
}

// injectBridge installs the click tracker in the page context. Clicks on
// any element inside a bound component are buffered in the page and
// drained by drainLoop.
func (d *RodDriver) injectBridge(ctx context.Context, page *rod.Page) {
	_, _ = page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS: `
		() => {
			const w = window;
			if (w.__guidepostHooked) return true;
			w.__guidepostHooked = true;
			w.__guidepostEvents = [];

			document.addEventListener('click', (ev) => {
				try {
					let el = ev.target;
					while (el && el.getAttribute) {
						const id = el.getAttribute('data-guidepost-id');
						if (id) {
							w.__guidepostEvents.push({ type: 'click', id, ts: Date.now() });
							return;
						}
						el = el.parentElement;
					}
				} catch (e) {}
			}, true);
			return true;
		}
		`,
		ByValue:      true,
		AwaitPromise: true,
	})
}

func (d *RodDriver) drainLoop(ctx context.Context, page *rod.Page) {
	ticker := time.NewTicker(d.cfg.DrainInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
				JS: `
				() => {
					const buf = Array.isArray(window.__guidepostEvents) ? window.__guidepostEvents : [];
					window.__guidepostEvents = [];
					return buf;
				}
				`,
				ByValue:      true,
				AwaitPromise: true,
			})
			if err != nil || res == nil || res.Value.Nil() {
				continue
			}
			raw, err := res.Value.MarshalJSON()
			if err != nil {
				continue
			}
			var events []struct {
				Type string  `json:"type"`
				ID   string  `json:"id"`
				TS   float64 `json:"ts"`
			}
			if err := json.Unmarshal(raw, &events); err != nil {
				continue
			}

			d.mu.RLock()
			fns := make([]func(ClickEvent), len(d.clickFns))
			copy(fns, d.clickFns)
			d.mu.RUnlock()

			for _, ev := range events {
				if ev.Type != "click" || ev.ID == "" {
					continue
				}
				click := ClickEvent{ComponentID: ev.ID, Timestamp: time.UnixMilli(int64(ev.TS))}
				for _, fn := range fns {
					fn(click)
				}
			}
		}
	}
}
