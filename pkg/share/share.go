// Package share publishes content through whichever device capability is
// available: the native share sheet, the clipboard, or a manual copy prompt.
//
// Providers are probed in order. A provider that is unavailable, or that
// fails, hands over to the next one, so a missing capability degrades to a
// fallback instead of failing the action:
//
//	res, err := share.Share(ctx, content,
//	    share.NativeShare{Sheet: sheet},
//	    share.Clipboard{Writer: clip},
//	    share.ManualPrompt{Prompter: prompt},
//	)
package share

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Result is the uniform outcome of a share attempt.
type Result int

const (
	// Unavailable means no provider could handle the content.
	Unavailable Result = iota

	// Success means the content was shared or copied.
	Success

	// Cancelled means the user dismissed the share UI.
	Cancelled
)

// String returns the result name.
func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Cancelled:
		return "cancelled"
	default:
		return "unavailable"
	}
}

// ErrCancelled is returned by device bridges when the user dismisses them.
var ErrCancelled = errors.New("share: cancelled")

// Content is what gets shared.
type Content struct {
	Title string
	Text  string
	URL   string
}

// Plain renders the content as a single string for clipboard and prompts.
func (c Content) Plain() string {
	parts := make([]string, 0, 2)
	if c.Text != "" {
		parts = append(parts, c.Text)
	} else if c.Title != "" {
		parts = append(parts, c.Title)
	}
	if c.URL != "" {
		parts = append(parts, c.URL)
	}
	return strings.Join(parts, " ")
}

// Provider is one way of sharing content.
type Provider interface {
	Name() string
	Available(ctx context.Context) bool
	Share(ctx context.Context, c Content) (Result, error)
}

// Outcome reports which provider handled a share.
type Outcome struct {
	Result   Result
	Provider string
}

// Share tries each provider in order and returns the first definitive
// outcome. A cancellation stops the search. Provider failures are logged and
// the next provider is tried; if none succeed the result is Unavailable with
// the joined failures.
func Share(ctx context.Context, c Content, providers ...Provider) (Outcome, error) {
	var errs []error
	for _, p := range providers {
		if p == nil || !p.Available(ctx) {
			continue
		}
		res, err := p.Share(ctx, c)
		switch {
		case errors.Is(err, ErrCancelled) || (err == nil && res == Cancelled):
			return Outcome{Result: Cancelled, Provider: p.Name()}, nil
		case err != nil:
			slog.Default().Debug("share provider failed", "provider", p.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		case res == Success:
			return Outcome{Result: Success, Provider: p.Name()}, nil
		}
		if ctx.Err() != nil {
			return Outcome{Result: Unavailable}, ctx.Err()
		}
	}
	return Outcome{Result: Unavailable}, errors.Join(errs...)
}
