// Package toast provides short user-facing notifications.
//
// View controllers report the outcome of optimistic actions through a
// Notifier rather than printing or rendering directly, so the same
// controller can drive a terminal, a test or a UI layer.
//
// A failed payment, for example:
//
//	if errors.Is(err, api.ErrInsufficientBalance) {
//	    toast.WithAction(n, toast.TypeError, "Insufficient balance", "Add funds", "add_funds")
//	    return err
//	}
//	toast.Success(n, "Payment sent")
//
// A nil Notifier is accepted everywhere and drops notices.
package toast
