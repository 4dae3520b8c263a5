package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/socialscope/internal/dataset"
	"github.com/JakeFAU/socialscope/internal/processor"
)

func newDatasetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Inspect and manage datasets",
	}
	cmd.AddCommand(
		datasetSubcommand("status <key>", "Show a dataset and its completion", runDatasetStatus),
		datasetSubcommand("delete <key>", "Delete a dataset, its children and their result files", runDatasetDelete),
		datasetSubcommand("genealogy <key>", "Show the chain of datasets leading to a dataset", runDatasetGenealogy),
		datasetSubcommand("processors <key>", "List processors that can run on a dataset", runDatasetProcessors),
	)
	return cmd
}

type datasetRunner func(cmd *cobra.Command, ds *dataset.Dataset) error

func datasetSubcommand(use, short string, run datasetRunner) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ds, err := a.Datasets.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load dataset: %w", err)
			}
			return run(cmd, ds)
		},
	}
}

func runDatasetStatus(cmd *cobra.Command, ds *dataset.Dataset) error {
	completion, path := ds.CheckCompletion()
	return printJSON(cmd.OutOrStdout(), map[string]any{
		"dataset":    ds.Record(),
		"completion": completion.String(),
		"path":       path,
	})
}

func runDatasetDelete(cmd *cobra.Command, ds *dataset.Dataset) error {
	if err := ds.Delete(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", ds.Key())
	return nil
}

func runDatasetGenealogy(cmd *cobra.Command, ds *dataset.Dataset) error {
	chain, err := ds.Genealogy(cmd.Context())
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(chain))
	for _, d := range chain {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", d.Key(), d.Type(), d.Label())
		keys = append(keys, d.Key())
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.Join(keys, dataset.BreadcrumbSeparator))
	return nil
}

func runDatasetProcessors(cmd *cobra.Command, ds *dataset.Dataset) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	builtin, err := processor.NewBuiltinRegistry()
	if err != nil {
		return err
	}
	registry, err := builtin.Configure(a.Config.Processors)
	if err != nil {
		return err
	}
	available, err := registry.Available(cmd.Context(), ds)
	if err != nil {
		return err
	}
	for _, d := range available {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", d.ID, d.Title)
	}
	return nil
}
