// Package browser provides the JS-capable page-rendering surface C7 needs,
// behind a small interface so a real Chrome-backed driver and a canned-HTML
// test driver are interchangeable.
package browser

import "context"

// Element is an opaque handle into a rendered document, produced by
// Find/FindAll and consumed by Text/ScrollTo.
type Element interface {
	// Text returns the element's visible text content.
	Text() string
}

// Driver is the capability set C7 needs from a page-rendering backend.
type Driver interface {
	// Open navigates to url and waits for the page to settle, or returns
	// an error on timeout/transport failure.
	Open(ctx context.Context, url string) error

	// Source returns the current page's rendered HTML.
	Source(ctx context.Context) (string, error)

	// FindAll returns every element matching the CSS selector.
	FindAll(ctx context.Context, css string) ([]Element, error)

	// Find returns the first element matching css, or nil if none exists.
	Find(ctx context.Context, css string) (Element, error)

	// Exists reports whether any element matches css.
	Exists(ctx context.Context, css string) (bool, error)

	// ScrollTo scrolls the first element matching css into view, letting
	// lazy-loaded listings below the fold render before extraction.
	ScrollTo(ctx context.Context, css string) error

	// SetProxy sets the SOCKS5 endpoint the driver routes through on its
	// next launch. Takes effect immediately if the underlying browser
	// hasn't started yet, otherwise on the next Rebuild.
	SetProxy(proxy string)

	// DismissConsent best-effort clicks a known consent button. Errors
	// are never fatal to the caller.
	DismissConsent(ctx context.Context)

	// Rebuild quits and reconstructs the underlying browser, used after
	// a transport/proxy change or repeated failures.
	Rebuild(ctx context.Context) error

	// Close releases all resources held by the driver.
	Close(ctx context.Context) error
}
