// Command bookingctl is the operator tool for a clinic's record store:
// backups, restore, seeding availability and rate-limit maintenance.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/clinicbook/libs/config"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/store"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/tenant"
)

var Version = "dev"

type globals struct {
	dataDir  string
	tenantID string
	key      string
	verbose  bool
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:           "bookingctl",
		Short:         "Operate a clinic booking record store",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&g.dataDir, "data-dir", config.String("DATA_DIR", "./data"), "data directory")
	rootCmd.PersistentFlags().StringVar(&g.tenantID, "tenant", config.String("CLINIC_TENANT", ""), "tenant id (default: legacy root or \"default\")")
	rootCmd.PersistentFlags().StringVar(&g.key, "key", config.String("STORE_ENCRYPTION_KEY", ""), "store encryption secret")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log store activity to stderr")

	rootCmd.AddCommand(backupsCmd(g))
	rootCmd.AddCommand(restoreCmd(g))
	rootCmd.AddCommand(verifyCmd(g))
	rootCmd.AddCommand(seedCmd(g))
	rootCmd.AddCommand(ratelimitCmd(g))
	rootCmd.AddCommand(adminTokenCmd())
	return rootCmd
}

func (g *globals) logger(cmd *cobra.Command) *slog.Logger {
	var w io.Writer = io.Discard
	if g.verbose {
		w = cmd.ErrOrStderr()
	}
	return slog.New(slog.NewTextHandler(w, nil))
}

func (g *globals) tenant() (tenant.Tenant, error) {
	return tenant.Resolver{DataDir: g.dataDir}.Select(g.tenantID)
}

func (g *globals) open(cmd *cobra.Command) (tenant.Tenant, *store.Store, error) {
	t, err := g.tenant()
	if err != nil {
		return tenant.Tenant{}, nil, err
	}
	s, err := store.New(t.Root, store.Options{Secret: g.key, Logger: g.logger(cmd)})
	if err != nil {
		return tenant.Tenant{}, nil, err
	}
	return t, s, nil
}
