package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/audit"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
)

var operator = model.Actor{Class: model.ActorAdmin, Subject: "bookingctl"}

func backupsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Inspect store backups",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List backups, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, s, err := g.open(cmd)
			if err != nil {
				return err
			}
			backups, err := s.Backups()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTAKEN AT\tSIZE\tKIND")
			for _, b := range backups {
				kind := "write"
				if b.PreRestore {
					kind = "pre-restore"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", b.Name, b.TakenAt.Format(time.RFC3339), b.Size, kind)
			}
			return tw.Flush()
		},
	})
	return cmd
}

func verifyCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Decode a store or backup file and report structural issues",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, err := g.open(cmd)
			if err != nil {
				return err
			}
			snap, issues, err := s.Inspect(s.ResolveBackup(args[0]))
			if err != nil {
				return err
			}
			printCounts(cmd, "counts", snap.Counts())
			if len(issues) > 0 {
				for _, issue := range issues {
					fmt.Fprintln(cmd.OutOrStdout(), "issue:", issue)
				}
				return fmt.Errorf("%d issue(s) found", len(issues))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func restoreCmd(g *globals) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Replace the store with a backup, keeping the current bytes as a pre-restore backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, s, err := g.open(cmd)
			if err != nil {
				return err
			}
			source := s.ResolveBackup(args[0])
			if !yes {
				snap, issues, err := s.Inspect(source)
				if err != nil {
					return err
				}
				printCounts(cmd, "backup", snap.Counts())
				if len(issues) > 0 {
					return fmt.Errorf("backup has %d issue(s): %s", len(issues), strings.Join(issues, "; "))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "dry run: re-run with --yes to restore %s into tenant %q\n", source, t.ID)
				return nil
			}
			report, err := s.Restore(cmd.Context(), source)
			if err != nil {
				return err
			}
			audit.New(t.Root, g.logger(cmd)).Log(operator, audit.EventStoreRestored, map[string]any{
				"source":             report.Source,
				"pre_restore_backup": report.PreRestoreBackup,
				"appointments":       report.After.Appointments,
			})
			printCounts(cmd, "before", report.Before)
			printCounts(cmd, "after", report.After)
			if report.PreRestoreBackup != "" {
				fmt.Fprintln(cmd.OutOrStdout(), "previous store kept as", report.PreRestoreBackup)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "perform the restore")
	return cmd
}

func seedCmd(g *globals) *cobra.Command {
	var (
		catalogFile string
		from        string
		days        int
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the availability map from the catalog schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days <= 0 || days > 366 {
				return errors.New("--days must be between 1 and 366")
			}
			cat := catalog.Default()
			if catalogFile != "" {
				var err error
				if cat, err = catalog.Load(catalogFile); err != nil {
					return err
				}
			}
			now := time.Now().In(cat.Location())
			start := now
			if from != "" {
				d, err := time.ParseInLocation(model.DateLayout, from, cat.Location())
				if err != nil {
					return fmt.Errorf("--from: %w", err)
				}
				start = d
			}
			generated := availability.ForSchedule(cat, start, days, now)

			t, s, err := g.open(cmd)
			if err != nil {
				return err
			}
			err = s.Update(cmd.Context(), func(cur model.Snapshot) (model.Snapshot, bool, error) {
				if len(generated) == 0 {
					return cur, false, nil
				}
				next := cur.Clone()
				for date, labels := range generated {
					next.Availability.Set(date, labels)
				}
				return next, true, nil
			})
			if err != nil {
				return err
			}
			audit.New(t.Root, g.logger(cmd)).Log(operator, audit.EventAvailabilitySet, map[string]any{
				"dates":  len(generated),
				"source": "seed",
			})
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d date(s) for tenant %q\n", len(generated), t.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogFile, "catalog", "", "catalog YAML file (default: built-in catalog)")
	cmd.Flags().StringVar(&from, "from", "", "first date, YYYY-MM-DD (default: today in the clinic time zone)")
	cmd.Flags().IntVar(&days, "days", 14, "number of days to generate")
	return cmd
}

func printCounts(cmd *cobra.Command, label string, c model.Counts) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s: appointments=%d availability=%d callbacks=%d reviews=%d\n",
		label, c.Appointments, c.Availability, c.Callbacks, c.Reviews)
}
