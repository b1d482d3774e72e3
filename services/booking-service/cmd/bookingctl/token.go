package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/clinicbook/libs/auth"
	"github.com/md-rashed-zaman/clinicbook/libs/config"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/tenant"
)

func adminTokenCmd() *cobra.Command {
	var (
		subject  string
		tenantID string
		ttl      time.Duration
		secret   string
	)
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Mint a staff bearer token for the admin routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return errors.New("ADMIN_JWT_SECRET or --secret is required")
			}
			if !tenant.ValidID(tenantID) {
				return fmt.Errorf("%w: %q", tenant.ErrInvalidTenant, tenantID)
			}
			tok, err := auth.SignHS256(subject, auth.RoleAdmin, tenantID, ttl, secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "staff", "token subject")
	cmd.Flags().StringVar(&tenantID, "for-tenant", config.String("CLINIC_TENANT", tenant.DefaultID), "tenant the token is scoped to")
	cmd.Flags().DurationVar(&ttl, "ttl", 8*time.Hour, "token lifetime")
	cmd.Flags().StringVar(&secret, "secret", config.String("ADMIN_JWT_SECRET", ""), "signing secret")
	return cmd
}
