package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sheetview/internal/grid"
	"sheetview/internal/storage"
)

func newSheetsCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sheets FILE",
		Short: "List the sheets of a file with their sizes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			src, err := storage.Open(args[0], storage.Options{HeaderRow: cfg.UI.HeaderRow})
			if err != nil {
				return err
			}
			defer src.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tSHEET\tROWS\tCOLUMNS")
			for _, sh := range src.Sheets() {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", sh.Index+1, sh.Name, grid.Number(float64(sh.RowCount)).Display(), sh.ColumnCount)
			}
			return w.Flush()
		},
	}
}

// listTables prints the Excel tables of the workbook at path.
func listTables(w io.Writer, path string) error {
	src, err := storage.Open(path, storage.Options{})
	if err != nil {
		return err
	}
	defer src.Close()
	x, ok := src.(*storage.XLSX)
	if !ok {
		return errors.New("--list-tables needs an Excel workbook")
	}
	tables, err := x.Tables()
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		fmt.Fprintln(w, "no tables in workbook")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SHEET\tTABLE\tRANGE\tROWS")
	for _, t := range tables {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Sheet, t.Name, t.Ref, grid.Number(float64(t.Rows)).Display())
	}
	return tw.Flush()
}
