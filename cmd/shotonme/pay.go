package main

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	apperrors "github.com/shotonme/shotonme/internal/errors"
	"github.com/shotonme/shotonme/pkg/api"
	"github.com/shotonme/shotonme/pkg/wallet"
)

func newWallet(s *session) *wallet.Wallet {
	return wallet.New(s.client, s.viewer,
		wallet.WithNotifier(s.notifier),
		wallet.WithLogger(s.logger),
		wallet.WithMetrics(s.metrics),
		wallet.WithReconcileOptions(s.reconcileOptions()...),
	)
}

func payCmd(flags *globalFlags) *cobra.Command {
	var (
		note     string
		addFunds bool
	)

	cmd := &cobra.Command{
		Use:   "pay <user-id> <amount>",
		Short: "Send money to a friend",
		Long: `Send money from your wallet. The amount is in dollars.

When the balance is too low the payment is refused and the shortfall is
shown. With --add-funds the suggested amount is added and the payment is
tried once more.

Examples:
  shotonme pay u2 12.50 --note="first round"
  shotonme pay u2 80 --add-funds`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cents, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			s, err := openSession(flags)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			w := newWallet(s)
			if err := w.Refresh(ctx); err != nil {
				return err
			}

			pay, err := w.Send(ctx, args[0], cents, note)
			if errors.Is(err, api.ErrInsufficientBalance) && pay.Prompt != nil {
				if !addFunds {
					warn("Short by %s. Add %s and retry, or pass --add-funds.",
						wallet.FormatCents(pay.Prompt.ShortfallCents),
						wallet.FormatCents(pay.Prompt.SuggestedCents))
					return err
				}
				if err := w.AddFunds(ctx, pay.Prompt.SuggestedCents); err != nil {
					return err
				}
				pay, err = w.Send(ctx, args[0], cents, note)
			}
			if err != nil {
				return err
			}

			balance, _ := w.Balance()
			success("Paid %s to %s", wallet.FormatCents(cents), args[0])
			info("transaction %s, balance %s", pay.Transaction.ID, wallet.FormatCents(balance))
			return nil
		},
	}

	cmd.Flags().StringVarP(&note, "note", "n", "", "Note shown to the recipient")
	cmd.Flags().BoolVar(&addFunds, "add-funds", false, "Top up automatically when the balance is short")

	return cmd
}

// parseAmount reads a dollar amount such as "12.50" or "$3" into cents.
func parseAmount(raw string) (int64, error) {
	f, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(raw), "$"), 64)
	if err != nil || f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, apperrors.New("S021").WithDetail("amount must be a positive dollar value, got " + strconv.Quote(raw))
	}
	cents := int64(math.Round(f * 100))
	if cents <= 0 {
		return 0, apperrors.New("S021").WithDetail("amount is less than one cent: " + strconv.Quote(raw))
	}
	return cents, nil
}
