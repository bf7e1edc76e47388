package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shotonme/shotonme/pkg/feed"
	"github.com/shotonme/shotonme/pkg/model"
	"github.com/shotonme/shotonme/pkg/reaction"
)

func newFeed(s *session) *feed.Feed {
	return feed.New(s.client, s.viewer,
		feed.WithNotifier(s.notifier),
		feed.WithLogger(s.logger),
		feed.WithMetrics(s.metrics),
		feed.WithReconcileOptions(s.reconcileOptions()...),
	)
}

func feedCmd(flags *globalFlags) *cobra.Command {
	var page int

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "List feed posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(flags)
			if err != nil {
				return err
			}
			f := newFeed(s)
			if err := f.Load(cmd.Context(), page); err != nil {
				return err
			}
			for _, p := range f.Posts() {
				printPost(p)
			}
			if f.HasMore() {
				info("more: shotonme feed --page=%d", page+1)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&page, "page", "p", 1, "Page to load")

	return cmd
}

func postCmd(flags *globalFlags) *cobra.Command {
	var venue, media string

	cmd := &cobra.Command{
		Use:   "post <text>",
		Short: "Publish a post",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(flags)
			if err != nil {
				return err
			}
			p, err := newFeed(s).CreatePost(cmd.Context(), strings.Join(args, " "), media, venue)
			if err != nil {
				return err
			}
			success("Posted %s", p.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&venue, "venue", "", "Venue id to tag")
	cmd.Flags().StringVar(&media, "media", "", "Media URL to attach")

	return cmd
}

func reactCmd(flags *globalFlags) *cobra.Command {
	var comment string

	cmd := &cobra.Command{
		Use:   "react <post-id> <kind>",
		Short: "Toggle a reaction on a post or comment",
		Long: `Toggle a reaction on a post, or on one of its comments with --comment.
The kind "like" toggles the post's like instead.

Examples:
  shotonme react 6650f1 🍻
  shotonme react 6650f1 like
  shotonme react 6650f1 🔥 --comment=c12`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(flags)
			if err != nil {
				return err
			}
			return react(cmd.Context(), newFeed(s), args[0], comment, args[1])
		},
	}

	cmd.Flags().StringVar(&comment, "comment", "", "Comment id to react to")

	return cmd
}

func react(ctx context.Context, f *feed.Feed, postID, commentID, kind string) error {
	// The view only holds what it has loaded.
	if err := f.Load(ctx, 1); err != nil {
		return err
	}
	switch {
	case commentID != "":
		return f.ReactToComment(ctx, postID, commentID, kind)
	case kind == reaction.Like:
		return f.Like(ctx, postID)
	default:
		return f.React(ctx, postID, kind)
	}
}

func printPost(p model.Post) {
	author := p.AuthorName
	if author == "" {
		author = p.AuthorID
	}
	fmt.Printf("\033[1m%s\033[0m  %s  %s\n", author, p.ID, p.CreatedAt.Format("Jan 2 15:04"))
	if p.Content != "" {
		fmt.Printf("  %s\n", p.Content)
	}
	var counts []string
	for _, k := range p.Reactions.Kinds() {
		mark := ""
		if p.Reactions.Has(k) {
			mark = "*"
		}
		counts = append(counts, fmt.Sprintf("%s %d%s", k, p.Reactions.Count(k), mark))
	}
	counts = append(counts, fmt.Sprintf("likes %d", p.Likes.Count(reaction.Like)))
	info("%s  comments %d", strings.Join(counts, "  "), len(p.Comments))
	fmt.Println()
}
