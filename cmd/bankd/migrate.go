package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newMigrateCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the CuentaBancaria/Transaccion tables and seed the example accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, err := newApplication(ctx, st.cfg, st.log)
			if err != nil {
				return err
			}
			defer app.shutdown(st.cfg.Server.ShutdownTimeout)

			spinner, _ := pterm.DefaultSpinner.Start("Applying schema...")
			if err := app.core.EnsureSchema(ctx); err != nil {
				spinner.Fail("Schema failed")
				return err
			}
			spinner.Success("Schema ready")
			return nil
		},
	}
}
