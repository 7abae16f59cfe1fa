package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FixtureDriver serves canned HTML by URL, letting the rest of the module
// exercise the full Driver contract without a real browser. Pages is keyed
// by exact URL; OpenErrors, when set for a URL, makes Open fail for it.
type FixtureDriver struct {
	Pages      map[string]string
	OpenErrors map[string]error

	current      string
	rebuildCount int
	closed       bool

	// Proxy records the last value passed to SetProxy, for test assertions.
	Proxy string
	// ScrolledTo records every css selector passed to ScrollTo.
	ScrolledTo []string
}

// NewFixtureDriver builds a FixtureDriver serving pages.
func NewFixtureDriver(pages map[string]string) *FixtureDriver {
	return &FixtureDriver{Pages: pages, OpenErrors: map[string]error{}}
}

func (f *FixtureDriver) Open(ctx context.Context, url string) error {
	if err, ok := f.OpenErrors[url]; ok && err != nil {
		return err
	}
	if _, ok := f.Pages[url]; !ok {
		return fmt.Errorf("fixture: no page registered for %s", url)
	}
	f.current = url
	return nil
}

func (f *FixtureDriver) Source(ctx context.Context) (string, error) {
	return f.Pages[f.current], nil
}

func (f *FixtureDriver) doc() (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(f.Pages[f.current]))
}

func (f *FixtureDriver) FindAll(ctx context.Context, css string) ([]Element, error) {
	doc, err := f.doc()
	if err != nil {
		return nil, err
	}
	sel := doc.Find(css)
	out := make([]Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, goqueryElement{sel: s})
	})
	return out, nil
}

func (f *FixtureDriver) Find(ctx context.Context, css string) (Element, error) {
	doc, err := f.doc()
	if err != nil {
		return nil, err
	}
	sel := doc.Find(css).First()
	if sel.Length() == 0 {
		return nil, nil
	}
	return goqueryElement{sel: sel}, nil
}

func (f *FixtureDriver) Exists(ctx context.Context, css string) (bool, error) {
	doc, err := f.doc()
	if err != nil {
		return false, err
	}
	return doc.Find(css).Length() > 0, nil
}

func (f *FixtureDriver) DismissConsent(ctx context.Context) {}

func (f *FixtureDriver) ScrollTo(ctx context.Context, css string) error {
	f.ScrolledTo = append(f.ScrolledTo, css)
	return nil
}

func (f *FixtureDriver) SetProxy(proxy string) { f.Proxy = proxy }

func (f *FixtureDriver) Rebuild(ctx context.Context) error {
	f.rebuildCount++
	return nil
}

func (f *FixtureDriver) RebuildCount() int { return f.rebuildCount }

func (f *FixtureDriver) Close(ctx context.Context) error {
	f.closed = true
	return nil
}

func (f *FixtureDriver) Closed() bool { return f.closed }
