package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// @title duowatch API
// @version 1.0
// @description Partner pairing and shared watchlists.
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	root := &cobra.Command{
		Use:           "duowatch",
		Short:         "Partner pairing and shared watchlist service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), auditCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
