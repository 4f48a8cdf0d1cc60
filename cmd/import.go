package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/partprice/internal/catalog"
	"github.com/jonesrussell/north-cloud/partprice/internal/config"
)

func importCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import-products <file.xlsx>",
		Short: "Load products from a spreadsheet into the catalog",
		Long: `Reads the first sheet of an .xlsx workbook. Row 1 names the columns;
"name" and "part_number" are required, "active" is optional.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open workbook: %w", err)
			}
			defer f.Close()

			app, err := loadApp()
			if err != nil {
				return err
			}
			defer closeApp(app)
			if app.Config.Database.Driver == config.DriverMemory {
				app.Logger.Warn("Importing into the in-memory catalog; products are dropped on exit")
			}

			report, err := catalog.Import(cmd.Context(), app.Catalog, f)
			if err != nil {
				return fmt.Errorf("import products: %w", err)
			}

			renderImport(cmd.OutOrStdout(), report)
			return nil
		},
	}
}
