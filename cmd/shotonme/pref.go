package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shotonme/shotonme/internal/config"
	apperrors "github.com/shotonme/shotonme/internal/errors"
	"github.com/shotonme/shotonme/pkg/pref"
)

func prefCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pref",
		Short: "Read or change local preferences",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "suggestions [on|off]",
		Short: "Show or set whether the feed shows friend suggestions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(flags.dir)
			if err != nil {
				return err
			}
			backend, err := pref.OpenPebble(cfg.PrefPath())
			if err != nil {
				return err
			}
			defer backend.Close()

			p := pref.FriendSuggestions(backend)
			if len(args) == 0 {
				fmt.Println(onOff(p.Get()))
				return nil
			}
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			if err := p.Set(on); err != nil {
				return err
			}
			success("Friend suggestions %s", onOff(on))
			return nil
		},
	})

	return cmd
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, apperrors.Newf(apperrors.CategoryValidation, "expected on or off, got %q", s)
	}
	return b, nil
}
