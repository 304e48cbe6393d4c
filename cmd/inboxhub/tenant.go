package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"inbox-hub/internal/auth"
	"inbox-hub/internal/model"
)

var (
	tenantName        string
	tenantConcurrency int
	tenantBotDisabled bool
	purgeTenant       bool
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Provision and inspect tenants",
}

var tenantAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a tenant and its message partition",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := bootstrap()
		if err != nil {
			return err
		}
		db, err := openStorage(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		t := model.Tenant{
			ID:          uuid.New(),
			Name:        tenantName,
			BotEnabled:  !tenantBotDisabled,
			Concurrency: tenantConcurrency,
		}
		if t.Concurrency <= 0 {
			t.Concurrency = cfg.Workers
		}
		ctx := cmd.Context()
		if err := db.CreateTenant(ctx, t); err != nil {
			return err
		}
		if err := db.EnsurePartition(ctx, t.ID); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), t.ID)
		return nil
	},
}

var tenantRemoveCmd = &cobra.Command{
	Use:   "remove <tenant-id>",
	Short: "Delete a tenant with all its conversations and messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid tenant id: %w", err)
		}
		if !purgeTenant {
			return fmt.Errorf("refusing to delete tenant %s without --purge", id)
		}
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		db, err := openStorage(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		if err := db.DeleteTenant(ctx, id); err != nil {
			return err
		}
		if err := db.DropPartition(ctx, id); err != nil {
			return err
		}
		log.Info("tenant purged", slog.String("tenant_id", id.String()))
		return nil
	},
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := bootstrap()
		if err != nil {
			return err
		}
		db, err := openStorage(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		tenants, err := db.ListTenants(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tBOT\tWORKERS\tCREATED")
		for _, t := range tenants {
			fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\n", t.ID, t.Name, t.BotEnabled, t.Concurrency, t.CreatedAt.Format("2006-01-02"))
		}
		return w.Flush()
	},
}

var tenantBotCmd = &cobra.Command{
	Use:   "bot <tenant-id> <on|off>",
	Short: "Switch the tenant's auto-reply bot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid tenant id: %w", err)
		}
		var enabled bool
		switch args[1] {
		case "on":
			enabled = true
		case "off":
		default:
			if enabled, err = strconv.ParseBool(args[1]); err != nil {
				return fmt.Errorf("expected on or off, got %q", args[1])
			}
		}
		cfg, _, err := bootstrap()
		if err != nil {
			return err
		}
		db, err := openStorage(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		return db.SetTenantBotEnabled(cmd.Context(), id, enabled)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <tenant-id>",
	Short: "Issue an agent JWT for a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid tenant id: %w", err)
		}
		cfg, _, err := bootstrap()
		if err != nil {
			return err
		}
		db, err := openStorage(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		if _, err := db.GetTenant(cmd.Context(), id); err != nil {
			return fmt.Errorf("tenant %s: %w", id, err)
		}

		token, err := auth.GenerateToken(id.String(), cfg.Auth.TokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tenantAddCmd.Flags().StringVar(&tenantName, "name", "", "display name")
	tenantAddCmd.Flags().IntVar(&tenantConcurrency, "workers", 0, "auto-reply workers (defaults to config workers)")
	tenantAddCmd.Flags().BoolVar(&tenantBotDisabled, "no-bot", false, "create the tenant with the bot switched off")
	tenantRemoveCmd.Flags().BoolVar(&purgeTenant, "purge", false, "confirm deleting every stored row of the tenant")
	tenantCmd.AddCommand(tenantAddCmd, tenantRemoveCmd, tenantListCmd, tenantBotCmd)
}
