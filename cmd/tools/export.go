package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lychee-technology/modepress/internal/export"
)

var (
	exportBucket string
	exportPrefix string
	exportJSON   bool
)

var exportCmd = &cobra.Command{
	Use:   "export [collection...]",
	Short: "Export collections to S3 as NDJSON snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		engine, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer engine.Close(ctx)

		cfg := engine.Config.Export
		if exportBucket != "" {
			cfg.Bucket = exportBucket
		}
		if exportPrefix != "" {
			cfg.Prefix = exportPrefix
		}

		exporter, err := export.NewS3Exporter(ctx, engine.Registry, cfg)
		if err != nil {
			return err
		}
		results, err := exporter.ExportAll(ctx, args...)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if exportJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}
		for _, r := range results {
			fmt.Fprintf(out, "%s\t%d\ts3://%s/%s\n", r.Collection, r.Documents, cfg.Bucket, r.Key)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVar(&exportBucket, "bucket", "", "target bucket, overrides export.bucket")
	exportCmd.Flags().StringVar(&exportPrefix, "prefix", "", "object key prefix, overrides export.prefix")
	exportCmd.Flags().BoolVar(&exportJSON, "json", false, "print results as JSON")
}
