package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/shotonme/shotonme/pkg/push"
	"github.com/shotonme/shotonme/pkg/store"
	"github.com/shotonme/shotonme/pkg/venues"
)

func watchCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the feed, inbox, wallet and map live",
		Long: `Load every view, subscribe it to the push channel and log each change
as it is reconciled. Stop with Ctrl+C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(flags)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return runWatch(ctx, s)
		},
	}
	return cmd
}

// sweeper is a view with buffered early updates.
type sweeper interface {
	Sweep() int
}

func runWatch(ctx context.Context, s *session) error {
	s.serveMetrics(ctx)
	pc := s.pushClient()

	f := newFeed(s)
	inbox := newInbox(s)
	w := newWallet(s)
	m := venues.New(s.client,
		venues.WithNotifier(s.notifier),
		venues.WithLogger(s.logger),
		venues.WithMetrics(s.metrics),
	)

	// Subscribe before loading so nothing published in between is missed.
	f.Mount(pc)
	inbox.Mount(pc)
	w.Mount(pc)
	m.Mount(pc)
	defer func() {
		f.Unmount()
		inbox.Unmount()
		w.Unmount()
		m.Unmount()
	}()

	for name, load := range map[string]func(context.Context) error{
		"feed":          func(ctx context.Context) error { return f.Load(ctx, 1) },
		"conversations": inbox.LoadConversations,
		"wallet":        w.Refresh,
		"venues":        func(ctx context.Context) error { return m.Load(ctx, 1) },
		"friends":       m.LoadFriends,
	} {
		if err := load(ctx); err != nil {
			s.logger.Warn("initial load failed", "view", name, "error", describe(err))
		}
	}

	logChanges := func(view string) func(store.Change) {
		return func(c store.Change) {
			s.logger.Info("changed", "view", view, "op", c.Op.String(), "id", c.ID, "old_id", c.OldID)
		}
	}
	defer f.Store().Watch(logChanges("feed"))()
	defer w.Store().Watch(logChanges("wallet"))()

	s.logger.Info("watching",
		"posts", len(f.Posts()),
		"conversations", len(inbox.Conversations()),
		"venues", len(m.Venues()),
		"friends", len(m.Friends()),
		"push", s.cfg.Push.URL,
	)
	for _, ev := range push.Events {
		pc.Subscribe(ev, func(push.Envelope) { s.logger.Debug("push event", "event", ev) })
	}

	go sweep(ctx, s.cfg.BufferTTL(), f, inbox, w)

	if err := pc.Run(ctx); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// sweep expires stale buffered updates on every view.
func sweep(ctx context.Context, every time.Duration, views ...sweeper) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, v := range views {
				v.Sweep()
			}
		}
	}
}
