package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/shotonme/shotonme/internal/errors"
)

// Coded errors returned by the client. Match them with errors.Is.
var (
	ErrNetwork             = apperrors.New("S001")
	ErrTimeout             = apperrors.New("S002")
	ErrServer              = apperrors.New("S003")
	ErrUnauthorized        = apperrors.New("S004")
	ErrNotFound            = apperrors.New("S005")
	ErrInsufficientBalance = apperrors.New("S040")
	ErrDuplicateRequest    = apperrors.New("S041")
	ErrRejected            = apperrors.New("S042")
	ErrMalformed           = apperrors.New("S062")
)

// Business error codes the backend sends in the "code" field.
const (
	CodeInsufficientBalance    = "insufficient_balance"
	CodeDuplicateFriendRequest = "duplicate_friend_request"
)

// InsufficientBalanceError is returned by payment calls when the wallet cannot
// cover the amount. ShortfallCents is how much more is needed.
type InsufficientBalanceError struct {
	ShortfallCents int64
	Message        string
}

func (e *InsufficientBalanceError) Error() string {
	msg := fmt.Sprintf("insufficient balance: short by %d.%02d", e.ShortfallCents/100, e.ShortfallCents%100)
	if e.Message != "" {
		msg += " (" + e.Message + ")"
	}
	return msg
}

// Unwrap lets errors.Is(err, ErrInsufficientBalance) match.
func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// BusinessError is a rule the server refused to break, such as a duplicate
// friend request.
type BusinessError struct {
	Status  int
	Code    string
	Message string
}

func (e *BusinessError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// Unwrap maps known codes onto coded errors.
func (e *BusinessError) Unwrap() error {
	if e.Code == CodeDuplicateFriendRequest {
		return ErrDuplicateRequest
	}
	return ErrRejected
}

type wireError struct {
	Code           string   `json:"code"`
	Error          string   `json:"error"`
	Message        string   `json:"message"`
	ShortfallCents *int64   `json:"shortfallCents"`
	Shortfall      *float64 `json:"shortfall"`
}

// decodeError turns a non-2xx response into an error.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var we wireError
	if len(body) > 0 {
		_ = json.Unmarshal(body, &we)
	}
	code := strings.ToLower(first(we.Code, codeLike(we.Error)))
	msg := first(we.Message, we.Error, strings.TrimSpace(string(body)))
	if msg == code {
		msg = we.Message
	}

	if resp.StatusCode == http.StatusPaymentRequired || code == CodeInsufficientBalance {
		return &InsufficientBalanceError{
			ShortfallCents: cents(we.ShortfallCents, we.Shortfall),
			Message:        we.Message,
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperrors.New("S004").WithDetail(msg)
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.New("S005").WithDetail(msg)
	case resp.StatusCode >= 500:
		return apperrors.New("S003").WithDetail(fmt.Sprintf("%d %s", resp.StatusCode, msg))
	default:
		if code == "" {
			code = strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_"))
		}
		return &BusinessError{Status: resp.StatusCode, Code: code, Message: msg}
	}
}

// codeLike returns s when it looks like a machine code rather than prose.
func codeLike(s string) string {
	if s == "" || strings.ContainsAny(s, " .") {
		return ""
	}
	return s
}
