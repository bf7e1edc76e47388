package share

import "context"

// ShareSheet is the native share sheet bridge.
type ShareSheet interface {
	Supported(ctx context.Context) bool
	Open(ctx context.Context, c Content) error
}

// ClipboardWriter is the clipboard bridge.
type ClipboardWriter interface {
	WriteText(ctx context.Context, text string) error
}

// Prompter shows text for the user to copy by hand.
type Prompter interface {
	Prompt(ctx context.Context, title, text string) error
}

// NativeShare shares through the platform share sheet.
type NativeShare struct {
	Sheet ShareSheet
}

// Name implements Provider.
func (NativeShare) Name() string { return "native" }

// Available implements Provider.
func (n NativeShare) Available(ctx context.Context) bool {
	return n.Sheet != nil && n.Sheet.Supported(ctx)
}

// Share implements Provider.
func (n NativeShare) Share(ctx context.Context, c Content) (Result, error) {
	if err := n.Sheet.Open(ctx, c); err != nil {
		return Unavailable, err
	}
	return Success, nil
}

// Clipboard copies the content as text.
type Clipboard struct {
	Writer ClipboardWriter
}

// Name implements Provider.
func (Clipboard) Name() string { return "clipboard" }

// Available implements Provider.
func (c Clipboard) Available(context.Context) bool { return c.Writer != nil }

// Share implements Provider.
func (c Clipboard) Share(ctx context.Context, content Content) (Result, error) {
	if err := c.Writer.WriteText(ctx, content.Plain()); err != nil {
		return Unavailable, err
	}
	return Success, nil
}

// ManualPrompt shows the text so the user can copy it themselves. It is the
// last resort and is always available when a prompter is set.
type ManualPrompt struct {
	Prompter Prompter
}

// Name implements Provider.
func (ManualPrompt) Name() string { return "prompt" }

// Available implements Provider.
func (m ManualPrompt) Available(context.Context) bool { return m.Prompter != nil }

// Share implements Provider.
func (m ManualPrompt) Share(ctx context.Context, c Content) (Result, error) {
	title := c.Title
	if title == "" {
		title = "Copy this link"
	}
	if err := m.Prompter.Prompt(ctx, title, c.Plain()); err != nil {
		return Unavailable, err
	}
	return Success, nil
}
