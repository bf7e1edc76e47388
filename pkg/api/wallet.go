package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/shotonme/shotonme/pkg/model"
)

// SendPaymentRequest is the body of SendPayment.
type SendPaymentRequest struct {
	ToID         string `json:"toId"`
	AmountCents  int64  `json:"amountCents"`
	Note         string `json:"note,omitempty"`
	ClientTempID string `json:"clientTempId,omitempty"`
}

// PaymentResult is the recorded transaction and the sender's wallet after it.
type PaymentResult struct {
	Transaction model.Transaction
	Wallet      model.Wallet
	HasWallet   bool
}

// Wallet returns the viewer's wallet.
func (c *Client) Wallet(ctx context.Context) (model.Wallet, error) {
	raw, err := c.do(ctx, request{op: "wallet", method: http.MethodGet, path: "/wallet"})
	if err != nil {
		return model.Wallet{}, err
	}
	return c.decodeWallet("wallet", raw)
}

// ListTransactions returns one page of the viewer's transactions, newest first.
func (c *Client) ListTransactions(ctx context.Context, page int) (Page[model.Transaction], error) {
	body, err := c.do(ctx, request{op: "list_transactions", method: http.MethodGet, path: "/wallet/transactions", query: pageQuery(page)})
	if err != nil {
		return Page[model.Transaction]{}, err
	}
	wire, err := decodeList[wireTransaction](body)
	if err != nil {
		return Page[model.Transaction]{}, malformed("list_transactions", err)
	}
	txs := make([]model.Transaction, 0, len(wire))
	for _, w := range wire {
		txs = append(txs, w.model())
	}
	return newPage(txs, page), nil
}

// SendPayment moves money to another user. A wallet that cannot cover the
// amount yields an *InsufficientBalanceError.
func (c *Client) SendPayment(ctx context.Context, req SendPaymentRequest) (PaymentResult, error) {
	raw, err := c.do(ctx, request{op: "send_payment", method: http.MethodPost, path: "/wallet/send", body: req})
	if err != nil {
		return PaymentResult{}, err
	}

	var res wireSendResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return PaymentResult{}, malformed("send_payment", err)
	}
	if res.Transaction == nil {
		// Bare transaction body.
		tx, err := decodeOne[wireTransaction](raw)
		if err != nil {
			return PaymentResult{}, malformed("send_payment", err)
		}
		res.Transaction = &tx
	}

	out := PaymentResult{Transaction: res.Transaction.model()}
	if res.Wallet != nil {
		out.Wallet = res.Wallet.model()
		if out.Wallet.UserID == "" {
			out.Wallet.UserID = c.viewer
		}
		out.HasWallet = true
	}
	return out, nil
}

// AddFunds credits the viewer's wallet from the card on file and returns the
// new wallet.
func (c *Client) AddFunds(ctx context.Context, amountCents int64) (model.Wallet, error) {
	raw, err := c.do(ctx, request{
		op:     "add_funds",
		method: http.MethodPost,
		path:   "/wallet/fund",
		body:   map[string]int64{"amountCents": amountCents},
	})
	if err != nil {
		return model.Wallet{}, err
	}
	return c.decodeWallet("add_funds", raw)
}

func (c *Client) decodeWallet(op string, raw []byte) (model.Wallet, error) {
	w, err := decodeOne[wireWallet](raw, "wallet")
	if err != nil {
		return model.Wallet{}, malformed(op, err)
	}
	out := w.model()
	if out.UserID == "" {
		out.UserID = c.viewer
	}
	return out, nil
}
