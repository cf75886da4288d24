// Package pagecapture loads a URL in a headless browser and extracts the
// page context used for prompts.
package pagecapture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"pagechat/internal/config"
	"pagechat/internal/prompt"
)

// ErrDisabled is returned when page capture is turned off in config.
var ErrDisabled = errors.New("page capture is disabled")

const extractScript = `() => {
	const meta = (name) => {
		const el = document.querySelector('meta[name="' + name + '"]');
		return el ? (el.getAttribute('content') || '') : '';
	};
	return {
		title: document.title || '',
		text: document.body ? document.body.innerText : '',
		description: meta('description'),
		keywords: meta('keywords'),
	};
}`

type extracted struct {
	Title       string `json:"title"`
	Text        string `json:"text"`
	Description string `json:"description"`
	Keywords    string `json:"keywords"`
}

// Capturer renders pages with rod. The browser is launched lazily and shared
// across captures; each capture uses its own tab.
type Capturer struct {
	cfg     config.BrowserConfig
	mu      sync.Mutex
	browser *rod.Browser
}

// New creates a capturer from config.
func New(cfg config.BrowserConfig) *Capturer {
	if cfg.TimeoutSecs <= 0 {
		cfg.TimeoutSecs = 30
	}
	if cfg.MaxPageSizeKB <= 0 {
		cfg.MaxPageSizeKB = 512
	}
	return &Capturer{cfg: cfg}
}

// Capture opens rawURL and returns its title, visible text and metadata.
func (c *Capturer) Capture(ctx context.Context, rawURL string) (*prompt.PageContext, error) {
	if !c.cfg.Enabled {
		return nil, ErrDisabled
	}
	if err := c.validateURL(rawURL); err != nil {
		return nil, err
	}

	browser, err := c.ensureBrowser()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.TimeoutSecs)*time.Second)
	defer cancel()

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: rawURL})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("page load: %w", err)
	}

	res, err := page.Eval(extractScript)
	if err != nil {
		return nil, fmt.Errorf("extract page: %w", err)
	}
	var ex extracted
	if err := res.Value.Unmarshal(&ex); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}

	pc := &prompt.PageContext{
		URL:      rawURL,
		Title:    strings.TrimSpace(ex.Title),
		FullPage: c.limit(ex.Text),
	}
	if ex.Description != "" || ex.Keywords != "" {
		pc.Metadata = &prompt.Metadata{
			Description: strings.TrimSpace(ex.Description),
			Keywords:    strings.TrimSpace(ex.Keywords),
		}
	}
	log.Printf("[pagecapture] captured %s (%d chars)", rawURL, len(pc.FullPage))
	return pc, nil
}

// Close shuts down the browser if it was started.
func (c *Capturer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser != nil {
		_ = c.browser.Close()
		c.browser = nil
	}
}

func (c *Capturer) ensureBrowser() (*rod.Browser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser != nil {
		return c.browser, nil
	}

	controlURL, err := launcher.New().Headless(c.cfg.Headless).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	c.browser = browser
	return browser, nil
}

// limit cuts text to MaxPageSizeKB bytes without splitting a rune.
func (c *Capturer) limit(text string) string {
	max := c.cfg.MaxPageSizeKB * 1024
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// validateURL checks the scheme, private addresses and domain allow/deny lists.
func (c *Capturer) validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("only http/https schemes are allowed, got: %s", u.Scheme)
	}

	host := u.Hostname()
	if isPrivateHost(host) {
		return fmt.Errorf("access to private/loopback addresses is denied: %s", host)
	}

	domain := strings.ToLower(host)
	for _, d := range c.cfg.DeniedDomains {
		if matchDomain(domain, d) {
			return fmt.Errorf("domain %s is denied", domain)
		}
	}
	if len(c.cfg.AllowedDomains) == 0 {
		return nil
	}
	for _, d := range c.cfg.AllowedDomains {
		if matchDomain(domain, d) {
			return nil
		}
	}
	return fmt.Errorf("domain %s is not in allowed list", domain)
}

func matchDomain(domain, rule string) bool {
	rule = strings.ToLower(rule)
	return domain == rule || strings.HasSuffix(domain, "."+rule)
}

// isPrivateHost returns true for loopback, private, and link-local addresses.
// Hostnames are not resolved.
func isPrivateHost(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "ip6-localhost", "ip6-loopback":
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
