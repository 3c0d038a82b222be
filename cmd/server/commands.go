package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/yescateam/camp-desk-api/internal/auth"
	"github.com/yescateam/camp-desk-api/internal/counters"
	"github.com/yescateam/camp-desk-api/internal/database"
	"github.com/yescateam/camp-desk-api/internal/models"
	"go.uber.org/zap"
)

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the schema and seed the counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := database.Connect(a.cfg); err != nil {
				return err
			}
			a.logger.Info("database migrated", zap.String("driver", a.cfg.DatabaseDriver), zap.String("camp_id", a.cfg.CampID))
			return nil
		},
	}
}

func (a *app) grantRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grant-role <discord-id> <role>",
		Short: "Give a staff account a role (super_admin, admin, front_desk or none)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := models.Role(args[1])
			if args[1] == "none" {
				role = models.RoleNone
			}
			db, err := database.Connect(a.cfg)
			if err != nil {
				return err
			}
			user, err := auth.GrantRole(cmd.Context(), db, args[0], role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d (discord %s) is now %q\n", user.ID, user.DiscordID, user.Role)
			return nil
		},
	}
}

func (a *app) countersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "counters",
		Short: "Print the member, registration and attendance counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.Open(a.cfg)
			if err != nil {
				return err
			}
			list, err := counters.List(cmd.Context(), db)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVALUE\tVERSION\tUPDATED")
			for _, c := range list {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", c.Name, c.Value, c.Version, c.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
}
