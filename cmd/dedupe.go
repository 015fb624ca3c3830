package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/requora/reqcore/internal/similarity"
)

var (
	dedupeContent   string
	dedupeDeprecate bool
)

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Duplicate detection over the requirement corpus",
}

var dedupeCheckCmd = &cobra.Command{
	Use:   "check <title>",
	Short: "Check one title (and optional content) against the corpus",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		detector := similarity.NewDetector(st,
			similarity.WithThresholds(cfg.Similarity.TitleThreshold, cfg.Similarity.ContentThreshold),
			similarity.WithWindow(cfg.Similarity.ScanWindow),
		)

		verdict, err := detector.CheckDuplicate(ctx, args[0], dedupeContent)
		if err != nil {
			return eris.Wrap(err, "duplicate check")
		}

		out, err := json.MarshalIndent(verdict, "", "  ")
		if err != nil {
			return eris.Wrap(err, "encode verdict")
		}
		fmt.Println(string(out))
		return nil
	},
}

var dedupeScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the whole corpus for duplicate clusters",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		detector := similarity.NewDetector(st,
			similarity.WithThresholds(cfg.Similarity.TitleThreshold, cfg.Similarity.ContentThreshold),
			similarity.WithWindow(cfg.Similarity.ScanWindow),
		)

		summary, err := detector.ScanDuplicates(ctx, dedupeDeprecate)
		if err != nil {
			return eris.Wrap(err, "duplicate scan")
		}

		out, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return eris.Wrap(err, "encode summary")
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	dedupeCheckCmd.Flags().StringVar(&dedupeContent, "content", "", "candidate content for the content-similarity pass")
	dedupeScanCmd.Flags().BoolVar(&dedupeDeprecate, "deprecate", false, "mark detected duplicates as deprecated")
	dedupeCmd.AddCommand(dedupeCheckCmd)
	dedupeCmd.AddCommand(dedupeScanCmd)
	rootCmd.AddCommand(dedupeCmd)
}
