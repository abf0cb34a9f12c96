package payload

import (
	"context"
	"errors"
	"log/slog"
	"net/url"

	"github.com/pkg/browser"

	"github.com/teslashibe/go-checkin/internal/log"
)

// Sentinel errors for visiting.
var (
	// ErrNotLink is returned when asked to visit a text payload.
	ErrNotLink = errors.New("payload: not a link")

	// ErrUnsafeScheme is returned for any scheme other than http and https.
	ErrUnsafeScheme = errors.New("payload: unsafe scheme")

	// ErrVisitDisabled is returned by the disabled visitor.
	ErrVisitDisabled = errors.New("payload: visiting disabled")
)

// Schemes a visitor may open. Anything else would launch whatever OS
// handler is registered for it.
var visitSchemes = map[string]bool{
	"http":  true,
	"https": true,
}

// Visitor opens a link in a browsing context isolated from the scanner:
// no opener back-reference and no referrer.
type Visitor interface {
	Visit(ctx context.Context, u *url.URL) error
}

// VisitorFunc adapts a function to Visitor.
type VisitorFunc func(ctx context.Context, u *url.URL) error

// Visit calls f.
func (f VisitorFunc) Visit(ctx context.Context, u *url.URL) error {
	return f(ctx, u)
}

// VisitLink classifies payload and visits it only if it is an http or
// https link. The payload is untrusted: anyone can print a code.
func VisitLink(ctx context.Context, v Visitor, payload string) (*url.URL, error) {
	c := Classify(payload)
	if c.Kind != KindLink {
		return nil, ErrNotLink
	}
	if !visitSchemes[c.URL.Scheme] {
		return c.URL, ErrUnsafeScheme
	}
	return c.URL, v.Visit(ctx, c.URL)
}

// BrowserVisitor hands links to the system browser. The browser starts a
// fresh top-level context with no opener and no referrer.
type BrowserVisitor struct {
	open   func(string) error
	logger *slog.Logger
}

// NewBrowserVisitor creates a visitor backed by the OS browser.
func NewBrowserVisitor(logger *slog.Logger) *BrowserVisitor {
	if logger == nil {
		logger = log.With("component", "visit")
	}
	return &BrowserVisitor{open: browser.OpenURL, logger: logger}
}

// Visit opens u.
func (b *BrowserVisitor) Visit(ctx context.Context, u *url.URL) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.logger.Info("opening link", "host", u.Host, "scheme", u.Scheme)
	return b.open(u.String())
}

// Disabled refuses every visit.
var Disabled = VisitorFunc(func(ctx context.Context, u *url.URL) error {
	return ErrVisitDisabled
})

// Verify implementations at compile time.
var (
	_ Visitor = (*BrowserVisitor)(nil)
	_ Visitor = VisitorFunc(nil)
)
