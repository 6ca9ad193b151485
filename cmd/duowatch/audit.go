package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/d60-Lab/duowatch/config"
	"github.com/d60-Lab/duowatch/internal/audit"
	"github.com/d60-Lab/duowatch/internal/repository"
	"github.com/d60-Lab/duowatch/pkg/database"
)

func auditCmd() *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check pairing symmetry and partner code uniqueness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := database.InitDB(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = database.Close(db) }()

			rep, err := audit.Run(cmd.Context(), repository.NewAccountRepository(db), batch)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "accounts=%d paired=%d violations=%d\n", rep.Accounts, rep.Paired, len(rep.Violations))
			for _, v := range rep.Violations {
				fmt.Fprintf(out, "%-16s %s %s\n", v.Kind, v.UID, v.Detail)
			}
			if !rep.OK() {
				return fmt.Errorf("%d violations", len(rep.Violations))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 500, "accounts per scan batch")
	return cmd
}
