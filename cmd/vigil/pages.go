package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/vigil/internal/definition"
	"github.com/pitabwire/vigil/internal/gateway"
	"github.com/pitabwire/vigil/internal/openapi"
	"github.com/pitabwire/vigil/model"
)

var pagesCmd = &cobra.Command{
	Use:     "pages",
	Short:   "Inspect page definitions",
	GroupID: "console",
}

var pagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Load, validate and list the configured pages",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		catalog := openapi.NewCatalog()
		if err := catalog.Load(catalogSources(cfg.Catalog)); err != nil {
			return fmt.Errorf("command catalog: %w", err)
		}
		loader := definition.NewLoader(
			definition.WithStrictChecksums(cfg.Definitions.StrictChecksums),
			definition.WithLoaderLogger(zap.NewNop()),
		)
		defs, err := loader.LoadAll(cfg.Definitions.Directories)
		if err != nil {
			return err
		}
		if verrs := definition.NewValidator().Validate(defs, catalog); len(verrs) > 0 {
			for _, ve := range verrs {
				fmt.Fprintln(os.Stderr, ve.Error())
			}
			return fmt.Errorf("%d definition errors", len(verrs))
		}

		reg := definition.NewRegistry(defs)
		pages := reg.Pages()
		if jsonOutput {
			return printJSON(pages)
		}
		// Shape needs no invoker; it only resolves the route.
		printPages(pages, gateway.New(nil,
			gateway.WithCatalog(catalog),
			gateway.WithCommands(reg),
			gateway.WithDefaultService(cfg.Catalog.DefaultService),
		))
		return nil
	},
}

func init() {
	pagesCmd.AddCommand(pagesListCmd)
}

func printPages(pages []model.PageDefinition, gw *gateway.Gateway) {
	if len(pages) == 0 {
		fmt.Println("No pages defined.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tCOMMAND\tSHAPE\tPAGE SIZE\tREFRESH ON")
	for _, p := range pages {
		size := "-"
		if p.PageSize > 0 {
			size = fmt.Sprint(p.PageSize)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Title, p.DataSource.Command, gw.Shape(p.DataSource.Command), size, strings.Join(p.RefreshOn, ","))
	}
	_ = w.Flush()
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
