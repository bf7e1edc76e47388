package toast

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	apperrors "github.com/shotonme/shotonme/internal/errors"
)

// Type represents the toast notification type.
type Type string

const (
	TypeSuccess Type = "success"
	TypeError   Type = "error"
	TypeWarning Type = "warning"
	TypeInfo    Type = "info"
)

// Notice is one user-facing notification.
type Notice struct {
	Level       Type   `json:"level"`
	Title       string `json:"title,omitempty"`
	Message     string `json:"message"`
	ActionLabel string `json:"actionLabel,omitempty"`
	ActionID    string `json:"actionID,omitempty"`
}

// Notifier shows notices to the user.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notice) { f(n) }

// Show sends a notice. A nil notifier drops it.
func Show(n Notifier, level Type, message string) {
	if n == nil {
		return
	}
	n.Notify(Notice{Level: level, Message: message})
}

// Success shows a success toast.
//
//	toast.Success(n, "Payment sent")
func Success(n Notifier, message string) {
	Show(n, TypeSuccess, message)
}

// Error shows an error toast.
//
//	toast.Error(n, "Could not send message")
func Error(n Notifier, message string) {
	Show(n, TypeError, message)
}

// Warning shows a warning toast.
func Warning(n Notifier, message string) {
	Show(n, TypeWarning, message)
}

// Info shows an info toast.
func Info(n Notifier, message string) {
	Show(n, TypeInfo, message)
}

// WithTitle shows a toast with a title and message.
//
//	toast.WithTitle(n, toast.TypeError, "Wallet", "Insufficient balance")
func WithTitle(n Notifier, level Type, title, message string) {
	if n == nil {
		return
	}
	n.Notify(Notice{Level: level, Title: title, Message: message})
}

// WithAction shows a toast with an action button.
//
//	toast.WithAction(n, toast.TypeError, "Insufficient balance", "Add funds", "add_funds")
func WithAction(n Notifier, level Type, message, actionLabel, actionID string) {
	if n == nil {
		return
	}
	n.Notify(Notice{Level: level, Message: message, ActionLabel: actionLabel, ActionID: actionID})
}

// FromError shows an error toast describing err. Coded errors use their
// registered message; anything else shows fallback.
func FromError(n Notifier, err error, fallback string) {
	if n == nil || err == nil {
		return
	}
	msg := fallback
	var ae *apperrors.AppError
	if errors.As(err, &ae) && ae.Message != "" {
		msg = ae.Message
	}
	Error(n, msg)
}

// LogNotifier writes notices to a structured logger. It is the notifier used
// by the command-line client.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(n Notice) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	switch n.Level {
	case TypeError:
		level = slog.LevelError
	case TypeWarning:
		level = slog.LevelWarn
	}
	attrs := []any{"kind", string(n.Level)}
	if n.Title != "" {
		attrs = append(attrs, "title", n.Title)
	}
	if n.ActionID != "" {
		attrs = append(attrs, "action", n.ActionID)
	}
	logger.Log(context.Background(), level, n.Message, attrs...)
}

// Recorder keeps every notice it receives. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify implements Notifier.
func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

// Notices returns a copy of the recorded notices.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Last returns the most recent notice.
func (r *Recorder) Last() (Notice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return Notice{}, false
	}
	return r.notices[len(r.notices)-1], true
}

// Reset drops the recorded notices.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.notices = nil
	r.mu.Unlock()
}
