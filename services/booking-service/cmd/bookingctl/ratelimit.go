package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/ratelimit"
)

func ratelimitCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Maintain file-backed rate-limit windows",
	}

	var ip, action string
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Clear the window of one client and action",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if ip == "" || action == "" {
				return errors.New("--ip and --action are required")
			}
			t, err := g.tenant()
			if err != nil {
				return err
			}
			if err := ratelimit.NewFileLimiter(t.Root, g.logger(cmd)).Reset(cmd.Context(), ip, action); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s for %s in tenant %q\n", action, ip, t.ID)
			return nil
		},
	}
	reset.Flags().StringVar(&ip, "ip", "", "client address")
	reset.Flags().StringVar(&action, "action", "", "action (book, reschedule, cancel, callback, review)")

	var olderThan time.Duration
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Delete window files untouched for longer than --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			t, err := g.tenant()
			if err != nil {
				return err
			}
			n, err := ratelimit.NewFileLimiter(t.Root, g.logger(cmd)).Sweep(olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d file(s)\n", n)
			return nil
		},
	}
	sweep.Flags().DurationVar(&olderThan, "older-than", 48*time.Hour, "minimum age of removed files")

	cmd.AddCommand(reset, sweep)
	return cmd
}
