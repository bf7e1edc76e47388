// Package wallet is the peer-to-peer payments view: the viewer's balance and
// transaction history.
//
// Payments debit the visible balance immediately and show a pending
// transaction. Debits and credits are deltas replayed over the last server
// wallet, so a failed payment never takes a later one's debit with it. Server
// wallets are ordered by their updatedAt stamp: an older wallet never replaces
// a newer one, and a newer one that already includes an in-flight payment
// absorbs its delta when the payment settles. A payment the wallet cannot
// cover is rolled back and answered with an AddFundsPrompt sized to the
// shortfall.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/shotonme/shotonme/internal/errors"
	"github.com/shotonme/shotonme/pkg/api"
	"github.com/shotonme/shotonme/pkg/metrics"
	"github.com/shotonme/shotonme/pkg/model"
	"github.com/shotonme/shotonme/pkg/optimistic"
	"github.com/shotonme/shotonme/pkg/push"
	"github.com/shotonme/shotonme/pkg/reconcile"
	"github.com/shotonme/shotonme/pkg/store"
	"github.com/shotonme/shotonme/pkg/toast"
)

// ActionAddFunds is the notice action id that opens the add-funds flow.
const ActionAddFunds = "add_funds"

// API is the part of the REST client the wallet uses.
type API interface {
	Wallet(ctx context.Context) (model.Wallet, error)
	ListTransactions(ctx context.Context, page int) (api.Page[model.Transaction], error)
	SendPayment(ctx context.Context, req api.SendPaymentRequest) (api.PaymentResult, error)
	AddFunds(ctx context.Context, amountCents int64) (model.Wallet, error)
}

// AddFundsPrompt is the recovery offered when a payment is short.
type AddFundsPrompt struct {
	ShortfallCents int64
	SuggestedCents int64
}

// Payment is the outcome of Send. Prompt is set when the wallet could not
// cover the amount.
type Payment struct {
	Transaction model.Transaction
	Prompt      *AddFundsPrompt
}

// Option configures a Wallet.
type Option func(*options)

type options struct {
	notifier  toast.Notifier
	logger    *slog.Logger
	metrics   *metrics.Metrics
	reconcile []reconcile.Option
	now       func() time.Time
	tempID    func() string
}

// WithNotifier sets where user-facing notices go.
func WithNotifier(n toast.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records sync metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithReconcileOptions passes options to both reconcilers.
func WithReconcileOptions(opts ...reconcile.Option) Option {
	return func(o *options) { o.reconcile = append(o.reconcile, opts...) }
}

// WithClock overrides the time source for optimistic timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTempIDs overrides temporary id generation.
func WithTempIDs(fn func() string) Option {
	return func(o *options) { o.tempID = fn }
}

// pendingPayment ties a payment's two optimistic mutations together so a
// push event can settle both.
type pendingPayment struct {
	debit *optimistic.Mutation[model.Wallet]
	tx    *optimistic.Mutation[model.Transaction]
	delta int64
}

// Wallet holds the viewer's balance and transactions.
type Wallet struct {
	api    API
	viewer string
	opts   options

	wallets   *store.Store[model.Wallet]
	balance   *optimistic.Applier[model.Wallet]
	walletRec *reconcile.Reconciler[model.Wallet]

	txs   *store.Store[model.Transaction]
	txApp *optimistic.Applier[model.Transaction]
	txRec *reconcile.Reconciler[model.Transaction]

	mu      sync.Mutex
	pending map[string]pendingPayment
	page    int
	hasMore bool

	subs push.Subscriptions
}

// New creates an empty wallet view for viewer. Call Refresh to load it.
func New(client API, viewer string, opts ...Option) *Wallet {
	o := options{
		logger: slog.Default(),
		now:    time.Now,
		tempID: optimistic.NewTempID,
	}
	for _, opt := range opts {
		opt(&o)
	}
	recOpts := append([]reconcile.Option{
		reconcile.WithMetrics(o.metrics),
		reconcile.WithLogger(o.logger),
	}, o.reconcile...)

	w := &Wallet{
		api:     client,
		viewer:  viewer,
		opts:    o,
		wallets: store.New[model.Wallet](),
		txs:     store.New[model.Transaction](),
		pending: make(map[string]pendingPayment),
		hasMore: true,
	}
	w.balance = optimistic.New(w.wallets,
		optimistic.WithEntityName("wallet"),
		optimistic.WithMetrics(o.metrics),
		optimistic.WithLogger(o.logger),
	)
	w.walletRec = reconcile.New(w.balance, recOpts...)
	w.txApp = optimistic.New(w.txs,
		optimistic.WithEntityName("transaction"),
		optimistic.WithCreateAtFront(),
		optimistic.WithMetrics(o.metrics),
		optimistic.WithLogger(o.logger),
	)
	w.txRec = reconcile.New(w.txApp, recOpts...)
	return w
}

// Balance returns the visible balance in cents and whether the wallet has
// been loaded.
func (w *Wallet) Balance() (int64, bool) {
	cur, ok := w.wallets.Get(w.viewer)
	return cur.BalanceCents, ok
}

// Transactions returns the transaction history, newest first.
func (w *Wallet) Transactions() []model.Transaction { return w.txs.Slice() }

// Store returns the transaction store the view renders from.
func (w *Wallet) Store() *store.Store[model.Transaction] { return w.txs }

// HasMore reports whether another page of transactions may exist.
func (w *Wallet) HasMore() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hasMore
}

// Refresh loads the wallet and the first page of transactions. Pending
// payments stay applied on top of what the server returns.
func (w *Wallet) Refresh(ctx context.Context) error {
	cur, err := w.api.Wallet(ctx)
	if err != nil {
		toast.FromError(w.opts.notifier, err, "Could not load your wallet")
		return err
	}
	if cur.UserID == "" {
		cur.UserID = w.viewer
	}
	if _, err := w.walletRec.MergeLoaded(cur); err != nil {
		return err
	}
	return w.loadTransactions(ctx, 1)
}

// LoadMore fetches the next page of transactions.
func (w *Wallet) LoadMore(ctx context.Context) error {
	w.mu.Lock()
	next, more := w.page+1, w.hasMore
	w.mu.Unlock()
	if !more {
		return nil
	}
	return w.loadTransactions(ctx, next)
}

func (w *Wallet) loadTransactions(ctx context.Context, page int) error {
	res, err := w.api.ListTransactions(ctx, page)
	if err != nil {
		toast.FromError(w.opts.notifier, err, "Could not load transactions")
		return err
	}
	if _, err := w.txRec.MergeLoaded(res.Items...); err != nil {
		return err
	}
	w.mu.Lock()
	w.page, w.hasMore = res.Page, res.HasMore
	w.mu.Unlock()
	return nil
}

// Send pays amountCents to the user to. When the server reports an
// insufficient balance the payment is undone and the returned Payment carries
// an AddFundsPrompt alongside the error.
func (w *Wallet) Send(ctx context.Context, to string, amountCents int64, note string) (Payment, error) {
	switch {
	case amountCents <= 0:
		return Payment{}, apperrors.New("S021")
	case to == "":
		return Payment{}, apperrors.New("S022")
	case to == w.viewer:
		return Payment{}, apperrors.New("S027")
	}

	temp := w.opts.tempID()
	start, loaded := w.Balance()

	var debit *optimistic.Mutation[model.Wallet]
	if loaded {
		var err error
		debit, err = w.balance.Apply(w.viewer, adjust(-amountCents))
		if err != nil {
			return Payment{}, err
		}
	}
	txm, err := w.txApp.ApplyCreate(model.Transaction{
		ID:          temp,
		TempID:      temp,
		FromID:      w.viewer,
		ToID:        to,
		AmountCents: amountCents,
		Note:        note,
		Status:      model.TxPending,
		CreatedAt:   w.opts.now(),
	})
	if err != nil {
		w.rollback(pendingPayment{debit: debit})
		return Payment{}, err
	}
	pp := pendingPayment{debit: debit, tx: txm, delta: -amountCents}
	w.track(temp, pp)
	defer w.untrack(temp)

	res, err := w.api.SendPayment(ctx, api.SendPaymentRequest{
		ToID:         to,
		AmountCents:  amountCents,
		Note:         note,
		ClientTempID: temp,
	})
	if err != nil {
		w.rollback(pp)
		var short *api.InsufficientBalanceError
		if errors.As(err, &short) {
			prompt := newPrompt(short.ShortfallCents, amountCents-start)
			toast.WithAction(w.opts.notifier, toast.TypeWarning,
				fmt.Sprintf("You need %s more to send this", FormatCents(prompt.ShortfallCents)),
				"Add funds", ActionAddFunds)
			return Payment{Prompt: &prompt}, err
		}
		toast.FromError(w.opts.notifier, err, "Payment failed")
		return Payment{}, err
	}

	tx := res.Transaction
	if tx.TempID == "" {
		tx.TempID = temp
	}
	if tx.Status == "" {
		tx.Status = model.TxCompleted
	}
	if tx.ID == "" {
		// Confirmed without a record; keep the optimistic entry.
		tx = model.Transaction{}
	}
	w.settle(w.txApp.Commit(txm, tx))
	if debit != nil {
		var confirmed *model.Wallet
		if res.HasWallet {
			confirmed = w.own(res.Wallet)
		}
		w.settle(w.balance.CommitPatch(debit, confirm(pp.delta, confirmed, res.Transaction.CreatedAt)))
	} else if res.HasWallet {
		_, _ = w.walletRec.MergeLoaded(res.Wallet)
	}

	toast.Success(w.opts.notifier, fmt.Sprintf("Sent %s", FormatCents(amountCents)))
	if tx.ID == "" {
		tx, _ = w.txs.Get(temp)
	}
	return Payment{Transaction: tx}, nil
}

// AddFunds credits the wallet from the card on file.
func (w *Wallet) AddFunds(ctx context.Context, amountCents int64) error {
	if amountCents <= 0 {
		return apperrors.New("S021")
	}
	_, loaded := w.Balance()
	var credit *optimistic.Mutation[model.Wallet]
	if loaded {
		var err error
		credit, err = w.balance.Apply(w.viewer, adjust(amountCents))
		if err != nil {
			return err
		}
	}

	cur, err := w.api.AddFunds(ctx, amountCents)
	if err != nil {
		w.rollback(pendingPayment{debit: credit})
		toast.FromError(w.opts.notifier, err, "Could not add funds")
		return err
	}
	if cur.UserID == "" {
		cur.UserID = w.viewer
	}
	if credit != nil {
		w.settle(w.balance.CommitPatch(credit, confirm(amountCents, &cur, time.Time{})))
	} else if _, err := w.walletRec.MergeLoaded(cur); err != nil {
		return err
	}
	toast.Success(w.opts.notifier, fmt.Sprintf("Added %s", FormatCents(amountCents)))
	return nil
}

// Mount subscribes the wallet to push events. Call Unmount to stop.
func (w *Wallet) Mount(c *push.Client) {
	w.subs.Add(push.On(c, push.EventWalletUpdated, w.viewer, push.DecodeWalletUpdated, w.updated))
}

// Unmount drops the push subscriptions made by Mount.
func (w *Wallet) Unmount() {
	w.subs.Close()
}

// Sweep discards buffered push updates that outlived their TTL.
func (w *Wallet) Sweep() int {
	return w.walletRec.Sweep() + w.txRec.Sweep()
}

// updated merges a wallet-updated event. An event that carries one of the
// viewer's in-flight payments settles it directly.
func (w *Wallet) updated(ev push.WalletUpdated) {
	if ev.Wallet.UserID != w.viewer {
		w.opts.logger.Debug("wallet update for another user ignored", "user", ev.Wallet.UserID)
		return
	}

	if ev.HasTransaction && ev.Transaction.TempID != "" {
		if pp, ok := w.lookup(ev.Transaction.TempID); ok {
			if _, err := w.txRec.MergeCreate(ev.Transaction, ev.Transaction.TempID); err != nil {
				w.opts.logger.Warn("transaction rejected", "error", err)
			}
			if pp.debit != nil {
				w.settle(w.balance.CommitPatch(pp.debit, confirm(pp.delta, &ev.Wallet, ev.Transaction.CreatedAt)))
			}
			return
		}
	}

	if w.wallets.Has(w.viewer) {
		next := ev.Wallet
		w.walletRec.MergeUpdate(w.viewer, func(cur model.Wallet) model.Wallet {
			if supersedes(next, cur) {
				return next
			}
			return cur
		})
	} else if _, err := w.walletRec.MergeLoaded(ev.Wallet); err != nil {
		w.opts.logger.Warn("wallet rejected", "error", err)
	}
	if ev.HasTransaction {
		if _, err := w.txRec.MergeCreate(ev.Transaction, ev.Transaction.TempID); err != nil {
			w.opts.logger.Warn("transaction rejected", "error", err)
		}
	}
}

func (w *Wallet) track(temp string, pp pendingPayment) {
	w.mu.Lock()
	w.pending[temp] = pp
	w.mu.Unlock()
}

func (w *Wallet) untrack(temp string) {
	w.mu.Lock()
	delete(w.pending, temp)
	w.mu.Unlock()
}

func (w *Wallet) lookup(temp string) (pendingPayment, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	pp, ok := w.pending[temp]
	return pp, ok
}

func (w *Wallet) rollback(pp pendingPayment) {
	if pp.tx != nil {
		if err := w.txApp.Rollback(pp.tx); err != nil && !errors.Is(err, optimistic.ErrSettled) {
			w.opts.logger.Error("rollback failed", "id", pp.tx.TargetID(), "error", err)
		}
	}
	if pp.debit != nil {
		if err := w.balance.Rollback(pp.debit); err != nil && !errors.Is(err, optimistic.ErrSettled) {
			w.opts.logger.Error("rollback failed", "id", pp.debit.TargetID(), "error", err)
		}
	}
}

// settle logs commit errors. A settled handle means a push event resolved the
// mutation first, which is expected.
func (w *Wallet) settle(err error) {
	if err != nil && !errors.Is(err, optimistic.ErrSettled) {
		w.opts.logger.Warn("commit failed", "error", err)
	}
}

// own fills in the viewer on a wallet the server returned without a user.
func (w *Wallet) own(wl model.Wallet) *model.Wallet {
	if wl.UserID == "" {
		wl.UserID = w.viewer
	}
	return &wl
}

// adjust moves the balance by delta cents.
func adjust(delta int64) optimistic.Transform[model.Wallet] {
	return func(cur model.Wallet) model.Wallet {
		cur.BalanceCents += delta
		return cur
	}
}

// confirm settles a balance change of delta cents. A server wallet replaces
// the base unless the base is newer, in which case it already holds the
// change. Without a wallet the delta is folded into the base, unless the base
// was stamped after serverAt, the time the server recorded the change.
func confirm(delta int64, wallet *model.Wallet, serverAt time.Time) optimistic.Transform[model.Wallet] {
	return func(base model.Wallet) model.Wallet {
		if wallet != nil {
			if supersedes(*wallet, base) {
				return *wallet
			}
			return base
		}
		if !serverAt.IsZero() && base.UpdatedAt.After(serverAt) {
			return base
		}
		base.BalanceCents += delta
		return base
	}
}

// supersedes reports whether next is at least as recent as cur. Wallets
// without a stamp cannot be ordered and always win.
func supersedes(next, cur model.Wallet) bool {
	return next.UpdatedAt.IsZero() || cur.UpdatedAt.IsZero() || !next.UpdatedAt.Before(cur.UpdatedAt)
}

// newPrompt sizes the add-funds offer. The server's shortfall wins; local is
// used when the server did not report one. The suggestion is rounded up to
// whole currency units.
func newPrompt(server, local int64) AddFundsPrompt {
	short := server
	if short <= 0 {
		short = local
	}
	if short <= 0 {
		short = 1
	}
	return AddFundsPrompt{
		ShortfallCents: short,
		SuggestedCents: (short + 99) / 100 * 100,
	}
}

// FormatCents renders an amount as dollars, e.g. "$12.50".
func FormatCents(c int64) string {
	sign := ""
	if c < 0 {
		sign, c = "-", -c
	}
	return fmt.Sprintf("%s$%d.%02d", sign, c/100, c%100)
}
