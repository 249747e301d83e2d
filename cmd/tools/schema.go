package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lychee-technology/modepress"
	"github.com/lychee-technology/modepress/factory"
	"github.com/lychee-technology/modepress/internal"
)

var schemaOutDir string

var schemaCmd = &cobra.Command{
	Use:   "schema [collection...]",
	Short: "Print the JSON Schema of built-in collections",
	Long: `Print the JSON Schema describing the documents accepted by each collection.
Without arguments every collection is printed. With --out each schema is
written to <dir>/<collection>.schema.json instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		engine, err := factory.NewWithStore(cmd.Context(), cfg, internal.NewMemoryStore())
		if err != nil {
			return err
		}
		if schemaOutDir != "" {
			return writeSchemaFiles(engine.Registry, schemaOutDir, args)
		}
		return writeSchemas(cmd.OutOrStdout(), engine.Registry, args)
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.Flags().StringVarP(&schemaOutDir, "out", "o", "", "directory to write <collection>.schema.json files into")
}

func collectionSchema(registry *internal.Registry, name string) ([]byte, error) {
	def, ok := registry.Definition(name)
	if !ok {
		return nil, modepress.NewCollectionNotFoundError(name)
	}
	doc, err := def.Template.JSONSchema(name)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(doc, "", "  ")
}

// writeSchemas prints one indented schema per collection.
func writeSchemas(w io.Writer, registry *internal.Registry, names []string) error {
	if len(names) == 0 {
		names = registry.Names()
	}
	for _, name := range names {
		data, err := collectionSchema(registry, name)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return err
		}
	}
	return nil
}

func writeSchemaFiles(registry *internal.Registry, dir string, names []string) error {
	if len(names) == 0 {
		names = registry.Names()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, name := range names {
		data, err := collectionSchema(registry, name)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, name+".schema.json")
		if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}
