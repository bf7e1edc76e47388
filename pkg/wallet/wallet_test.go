package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	apperrors "github.com/shotonme/shotonme/internal/errors"
	"github.com/shotonme/shotonme/pkg/api"
	"github.com/shotonme/shotonme/pkg/model"
	"github.com/shotonme/shotonme/pkg/push"
	"github.com/shotonme/shotonme/pkg/toast"
)

const viewer = "u1"

var now = time.Date(2026, 1, 2, 21, 0, 0, 0, time.UTC)

// fakeAPI holds a server-side balance and rejects payments it cannot cover.
type fakeAPI struct {
	mu          sync.Mutex
	balance     int64
	txs         []model.Transaction
	nextID      int
	calls       int
	err         error
	noWallet    bool
	noShortfall bool
	before      func()
	gate        func(api.SendPaymentRequest)
	reject      map[int64]error
	walletAt    time.Time
}

func (f *fakeAPI) Wallet(context.Context) (model.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return model.Wallet{UserID: viewer, BalanceCents: f.balance}, nil
}

func (f *fakeAPI) ListTransactions(_ context.Context, page int) (api.Page[model.Transaction], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return api.Page[model.Transaction]{Items: f.txs, Page: page}, nil
}

func (f *fakeAPI) SendPayment(_ context.Context, req api.SendPaymentRequest) (api.PaymentResult, error) {
	f.mu.Lock()
	f.calls++
	before, gate := f.before, f.gate
	f.mu.Unlock()
	if before != nil {
		before()
	}
	if gate != nil {
		gate(req)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return api.PaymentResult{}, f.err
	}
	if err := f.reject[req.AmountCents]; err != nil {
		return api.PaymentResult{}, err
	}
	if req.AmountCents > f.balance {
		short := req.AmountCents - f.balance
		if f.noShortfall {
			short = 0
		}
		return api.PaymentResult{}, &api.InsufficientBalanceError{ShortfallCents: short}
	}
	f.balance -= req.AmountCents
	f.nextID++
	tx := model.Transaction{
		ID:          fmt.Sprintf("t%d", f.nextID),
		TempID:      req.ClientTempID,
		FromID:      viewer,
		ToID:        req.ToID,
		AmountCents: req.AmountCents,
		Note:        req.Note,
		Status:      model.TxCompleted,
		CreatedAt:   now,
	}
	f.txs = append([]model.Transaction{tx}, f.txs...)
	res := api.PaymentResult{Transaction: tx}
	if !f.noWallet {
		res.Wallet, res.HasWallet = model.Wallet{UserID: viewer, BalanceCents: f.balance, UpdatedAt: f.walletAt}, true
	}
	return res, nil
}

func (f *fakeAPI) AddFunds(_ context.Context, cents int64) (model.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return model.Wallet{}, f.err
	}
	f.balance += cents
	return model.Wallet{UserID: viewer, BalanceCents: f.balance}, nil
}

func newWallet(t *testing.T, fake *fakeAPI) (*Wallet, *push.Client, *toast.Recorder) {
	t.Helper()
	rec := &toast.Recorder{}
	n := 0
	w := New(fake, viewer,
		WithNotifier(rec),
		WithTempIDs(func() string { n++; return fmt.Sprintf("tmp-%d", n) }),
		WithClock(func() time.Time { return now }),
	)
	if err := w.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	c := push.New("ws://unused")
	w.Mount(c)
	t.Cleanup(w.Unmount)
	return w, c, rec
}

func deliver(t *testing.T, c *push.Client, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	c.Deliver(push.Envelope{Event: push.EventWalletUpdated, Data: data})
}

func balance(t *testing.T, w *Wallet) int64 {
	t.Helper()
	b, ok := w.Balance()
	if !ok {
		t.Fatal("wallet not loaded")
	}
	return b
}

func TestSendDebitsOptimistically(t *testing.T) {
	fake := &fakeAPI{balance: 2000}
	w, _, rec := newWallet(t, fake)

	fake.before = func() {
		if b := balance(t, w); b != 1200 {
			t.Errorf("optimistic balance = %d, want 1200", b)
		}
		txs := w.Transactions()
		if len(txs) != 1 || txs[0].ID != "tmp-1" || txs[0].Status != model.TxPending {
			t.Errorf("pending transaction not visible: %+v", txs)
		}
	}

	p, err := w.Send(context.Background(), "u2", 800, "first round")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if p.Prompt != nil || p.Transaction.ID != "t1" {
		t.Errorf("payment = %+v", p)
	}
	if b := balance(t, w); b != 1200 {
		t.Errorf("balance = %d, want 1200", b)
	}
	txs := w.Transactions()
	if len(txs) != 1 || txs[0].ID != "t1" || txs[0].Status != model.TxCompleted {
		t.Errorf("transactions = %+v", txs)
	}
	if n, _ := rec.Last(); n.Message != "Sent $8.00" {
		t.Errorf("notice = %+v", n)
	}
}

func TestInsufficientBalanceOffersAddFunds(t *testing.T) {
	tests := []struct {
		name      string
		shortfall bool
	}{
		{"server shortfall", true},
		{"local shortfall", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeAPI{balance: 1000, noShortfall: !tt.shortfall}
			w, _, rec := newWallet(t, fake)

			p, err := w.Send(context.Background(), "u2", 1500, "")
			if !errors.Is(err, api.ErrInsufficientBalance) {
				t.Fatalf("err = %v, want insufficient balance", err)
			}
			if p.Prompt == nil {
				t.Fatal("no add-funds prompt")
			}
			if diff := cmp.Diff(AddFundsPrompt{ShortfallCents: 500, SuggestedCents: 500}, *p.Prompt); diff != "" {
				t.Errorf("prompt (-want +got):\n%s", diff)
			}
			if n := len(w.Transactions()); n != 0 {
				t.Errorf("transactions = %d, want 0", n)
			}
			if b := balance(t, w); b != 1000 {
				t.Errorf("balance = %d, want 1000", b)
			}
			n, _ := rec.Last()
			if n.ActionID != ActionAddFunds || n.Level != toast.TypeWarning {
				t.Errorf("notice = %+v", n)
			}
		})
	}
}

func TestPromptRoundsUp(t *testing.T) {
	got := newPrompt(250, 0)
	if got.ShortfallCents != 250 || got.SuggestedCents != 300 {
		t.Errorf("prompt = %+v", got)
	}
}

func TestSendValidation(t *testing.T) {
	fake := &fakeAPI{balance: 1000}
	w, _, _ := newWallet(t, fake)

	tests := []struct {
		name   string
		to     string
		amount int64
		code   string
	}{
		{"zero amount", "u2", 0, "S021"},
		{"negative amount", "u2", -5, "S021"},
		{"no recipient", "", 100, "S022"},
		{"self", viewer, 100, "S027"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := w.Send(context.Background(), tt.to, tt.amount, ""); !apperrors.HasCode(err, tt.code) {
				t.Errorf("err = %v, want %s", err, tt.code)
			}
		})
	}
	if fake.calls != 0 || balance(t, w) != 1000 || len(w.Transactions()) != 0 {
		t.Errorf("state changed: calls %d balance %d txs %d", fake.calls, balance(t, w), len(w.Transactions()))
	}
}

func TestPushBeforeResponseDebitsOnce(t *testing.T) {
	fake := &fakeAPI{balance: 2000}
	w, c, _ := newWallet(t, fake)

	fake.before = func() {
		deliver(t, c, map[string]any{
			"wallet": map[string]any{"userId": viewer, "balanceCents": 1200},
			"transaction": map[string]any{
				"_id": "t1", "clientTempId": "tmp-1", "fromId": viewer, "toId": "u2",
				"amountCents": 800, "status": "completed",
			},
		})
	}
	if _, err := w.Send(context.Background(), "u2", 800, ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if b := balance(t, w); b != 1200 {
		t.Errorf("balance = %d, want 1200", b)
	}
	if diff := cmp.Diff([]string{"t1"}, w.Store().IDs()); diff != "" {
		t.Errorf("transactions (-want +got):\n%s", diff)
	}
}

func TestResponseWithoutWalletKeepsDebit(t *testing.T) {
	fake := &fakeAPI{balance: 2000, noWallet: true}
	w, c, _ := newWallet(t, fake)

	if _, err := w.Send(context.Background(), "u2", 500, ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if b := balance(t, w); b != 1500 {
		t.Errorf("balance = %d, want 1500", b)
	}

	deliver(t, c, map[string]any{"userId": viewer, "balanceCents": 1500})
	if b := balance(t, w); b != 1500 {
		t.Errorf("balance after push = %d, want 1500", b)
	}
}

func TestIncomingPayment(t *testing.T) {
	fake := &fakeAPI{balance: 100}
	w, c, _ := newWallet(t, fake)

	payload := map[string]any{
		"wallet":      map[string]any{"userId": viewer, "balanceCents": 600},
		"transaction": map[string]any{"_id": "t7", "fromId": "u3", "toId": viewer, "amountCents": 500},
	}
	deliver(t, c, payload)
	deliver(t, c, payload)

	if b := balance(t, w); b != 600 {
		t.Errorf("balance = %d, want 600", b)
	}
	if diff := cmp.Diff([]string{"t7"}, w.Store().IDs()); diff != "" {
		t.Errorf("transactions (-want +got):\n%s", diff)
	}

	deliver(t, c, map[string]any{"userId": "u9", "balanceCents": 1})
	if b := balance(t, w); b != 600 {
		t.Errorf("another user's wallet applied: %d", b)
	}
}

func TestAddFunds(t *testing.T) {
	fake := &fakeAPI{balance: 1000}
	w, _, rec := newWallet(t, fake)

	if err := w.AddFunds(context.Background(), 500); err != nil {
		t.Fatalf("AddFunds: %v", err)
	}
	if b := balance(t, w); b != 1500 {
		t.Errorf("balance = %d, want 1500", b)
	}
	if n, _ := rec.Last(); n.Message != "Added $5.00" {
		t.Errorf("notice = %+v", n)
	}

	fake.err = apperrors.New("S003")
	if err := w.AddFunds(context.Background(), 500); err == nil {
		t.Fatal("AddFunds succeeded, want error")
	}
	if b := balance(t, w); b != 1500 {
		t.Errorf("balance after failure = %d, want 1500", b)
	}

	if err := w.AddFunds(context.Background(), 0); !apperrors.HasCode(err, "S021") {
		t.Errorf("err = %v, want S021", err)
	}
}

// gated holds each payment until its amount is released.
type gated struct {
	entered chan int64
	release map[int64]chan struct{}
}

func newGated(amounts ...int64) *gated {
	g := &gated{entered: make(chan int64, len(amounts)), release: make(map[int64]chan struct{})}
	for _, a := range amounts {
		g.release[a] = make(chan struct{})
	}
	return g
}

func (g *gated) hold(req api.SendPaymentRequest) {
	g.entered <- req.AmountCents
	<-g.release[req.AmountCents]
}

func (g *gated) await(t *testing.T, amount int64) {
	t.Helper()
	select {
	case got := <-g.entered:
		if got != amount {
			t.Fatalf("payment of %d reached the server, want %d", got, amount)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("payment of %d never reached the server", amount)
	}
}

func sendAsync(w *Wallet, amount int64) <-chan error {
	done := make(chan error, 1)
	go func() {
		_, err := w.Send(context.Background(), "u2", amount, "")
		done <- err
	}()
	return done
}

func TestFailedPaymentKeepsLaterDebit(t *testing.T) {
	g := newGated(100, 200)
	fake := &fakeAPI{
		balance:  1000,
		noWallet: true,
		gate:     g.hold,
		reject:   map[int64]error{100: apperrors.New("S003")},
	}
	w, _, _ := newWallet(t, fake)

	first := sendAsync(w, 100)
	g.await(t, 100)
	second := sendAsync(w, 200)
	g.await(t, 200)
	if b := balance(t, w); b != 700 {
		t.Fatalf("balance with both pending = %d, want 700", b)
	}

	close(g.release[100])
	if err := <-first; err == nil {
		t.Fatal("first payment succeeded, want error")
	}
	if b := balance(t, w); b != 800 {
		t.Errorf("balance after first failed = %d, want 800", b)
	}

	close(g.release[200])
	if err := <-second; err != nil {
		t.Fatalf("second payment: %v", err)
	}
	if b := balance(t, w); b != fake.balance || b != 800 {
		t.Errorf("balance = %d, server = %d, want 800", b, fake.balance)
	}
}

func TestIncomingCreditDuringPendingDebit(t *testing.T) {
	g := newGated(100)
	fake := &fakeAPI{balance: 1000, gate: g.hold}
	w, c, _ := newWallet(t, fake)

	done := sendAsync(w, 100)
	g.await(t, 100)

	// The server records the credit before it reaches the payment.
	fake.mu.Lock()
	fake.balance += 500
	fake.mu.Unlock()
	deliver(t, c, map[string]any{
		"wallet":      map[string]any{"userId": viewer, "balanceCents": 1500},
		"transaction": map[string]any{"_id": "t9", "fromId": "u3", "toId": viewer, "amountCents": 500},
	})
	if b := balance(t, w); b != 1400 {
		t.Errorf("balance with credit and pending debit = %d, want 1400", b)
	}

	close(g.release[100])
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if b := balance(t, w); b != 1400 {
		t.Errorf("balance = %d, want 1400", b)
	}
}

func TestNewerPushAbsorbsPendingDebit(t *testing.T) {
	t.Run("response without wallet", func(t *testing.T) {
		g := newGated(100)
		fake := &fakeAPI{balance: 1000, noWallet: true, gate: g.hold}
		w, c, _ := newWallet(t, fake)

		done := sendAsync(w, 100)
		g.await(t, 100)
		// Already includes the debit; stamped after the payment.
		deliver(t, c, map[string]any{"userId": viewer, "balanceCents": 900, "updatedAt": now.Add(time.Second)})

		close(g.release[100])
		if err := <-done; err != nil {
			t.Fatalf("Send: %v", err)
		}
		if b := balance(t, w); b != 900 {
			t.Errorf("balance = %d, want 900", b)
		}
	})

	t.Run("older response wallet", func(t *testing.T) {
		g := newGated(100)
		fake := &fakeAPI{balance: 1000, gate: g.hold, walletAt: now.Add(time.Second)}
		w, c, _ := newWallet(t, fake)

		done := sendAsync(w, 100)
		g.await(t, 100)
		// Payment then an incoming credit, pushed before the response.
		deliver(t, c, map[string]any{
			"wallet":      map[string]any{"userId": viewer, "balanceCents": 1400, "updatedAt": now.Add(2 * time.Second)},
			"transaction": map[string]any{"_id": "t9", "fromId": "u3", "toId": viewer, "amountCents": 500},
		})

		close(g.release[100])
		if err := <-done; err != nil {
			t.Fatalf("Send: %v", err)
		}
		if b := balance(t, w); b != 1400 {
			t.Errorf("balance = %d, want 1400", b)
		}
	})
}

func TestFormatCents(t *testing.T) {
	tests := map[int64]string{0: "$0.00", 5: "$0.05", 1250: "$12.50", -300: "-$3.00"}
	for in, want := range tests {
		if got := FormatCents(in); got != want {
			t.Errorf("FormatCents(%d) = %q, want %q", in, got, want)
		}
	}
}
