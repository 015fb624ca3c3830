package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Manage inference providers",
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		providers, err := st.ListProviders(ctx, false)
		if err != nil {
			return eris.Wrap(err, "list providers")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tKIND\tPRIORITY\tACTIVE\tMODEL")
		for _, p := range providers {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%s\n",
				p.ID, p.Name, p.Kind, p.Priority, p.Active, p.DefaultModel())
		}
		return w.Flush()
	},
}

var providersAddCmd = &cobra.Command{
	Use:   "add <file.json>",
	Short: "Add or update a provider from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read provider file")
		}
		var req providerRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return eris.Wrap(err, "decode provider file")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		saved, err := st.SaveProvider(ctx, req.toConfig())
		if err != nil {
			return eris.Wrap(err, "save provider")
		}
		zap.L().Info("provider saved",
			zap.String("id", saved.ID),
			zap.String("name", saved.Name),
			zap.Int("priority", saved.Priority),
		)
		return nil
	},
}

var providersRemoveCmd = &cobra.Command{
	Use:   "remove <provider-id>",
	Short: "Remove a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.DeleteProvider(ctx, args[0]); err != nil {
			return eris.Wrap(err, "delete provider")
		}
		zap.L().Info("provider removed", zap.String("id", args[0]))
		return nil
	},
}

var providersStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the live failover registry with health checks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ORDER\tNAME\tKIND\tHEALTHY")
		for i, a := range e.Executor.Providers() {
			fmt.Fprintf(w, "%d\t%s\t%s\t%t\n", i+1, a.Name(), a.Kind(), a.IsHealthy(ctx))
		}
		return w.Flush()
	},
}

func init() {
	providersCmd.AddCommand(providersListCmd)
	providersCmd.AddCommand(providersAddCmd)
	providersCmd.AddCommand(providersRemoveCmd)
	providersCmd.AddCommand(providersStatusCmd)
	rootCmd.AddCommand(providersCmd)
}
