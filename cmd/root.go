package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gdamore/tcell/v2"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"sheetview/internal/app"
	"sheetview/internal/config"
	"sheetview/internal/export"
	"sheetview/internal/keymap"
	"sheetview/internal/logging"
	"sheetview/internal/storage"
)

type rootFlags struct {
	configPath string
	sheet      string
	export     string
	formulas   bool
	horizontal bool
	noHeader   bool
	maxRows    int
	maxWidth   int
	wrap       bool
	listTables bool
	table      string
	demo       int
	logFile    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:   "sheetview FILE",
		Short: "Terminal viewer for large CSV and Excel files",
		Long: `sheetview opens CSV, TSV and XLSX files of any size in the terminal.
Rows are read on demand, so only what is on screen (plus a margin) is in memory.

When stdout is not a terminal the sheet is written out as text instead.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runView(cmd, f, args)
		},
	}

	root.PersistentFlags().StringVar(&f.configPath, "config", "", "config file (default "+config.DefaultPath()+")")
	flags := root.Flags()
	flags.StringVarP(&f.sheet, "sheet", "s", "", "sheet to open, by name or 1-based index")
	flags.StringVarP(&f.export, "export", "e", "", "write the sheet to stdout as csv, json or text")
	flags.BoolVar(&f.formulas, "formulas", false, "read formula text from workbooks")
	flags.BoolVarP(&f.horizontal, "horizontal", "H", false, "size columns to their content")
	flags.BoolVar(&f.noHeader, "no-header", false, "treat the first row as data")
	flags.IntVar(&f.maxRows, "max-rows", 0, "rows to export; 0 means all")
	flags.IntVarP(&f.maxWidth, "max-width", "w", 0, "column width cap in characters (default from config, 30)")
	flags.BoolVar(&f.wrap, "wrap", false, "wrap long text in text output instead of cutting it short")
	flags.BoolVar(&f.listTables, "list-tables", false, "list the Excel tables of the workbook and exit")
	flags.StringVarP(&f.table, "table", "t", "", "open one Excel table instead of a worksheet")
	flags.IntVar(&f.demo, "demo", 0, "open a generated sheet of N rows instead of a file")
	flags.StringVar(&f.logFile, "log-file", "", "log file (default "+logging.DefaultPath()+")")
	flags.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	root.MarkFlagsMutuallyExclusive("sheet", "table")
	root.MarkFlagsMutuallyExclusive("demo", "table")
	root.MarkFlagsMutuallyExclusive("demo", "list-tables")

	root.AddCommand(newSheetsCmd(f), newConfigCmd(f))
	return root
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies command line overrides.
func loadConfig(cmd *cobra.Command, f *rootFlags) (*config.Config, error) {
	path := f.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if f.formulas {
		cfg.UI.ShowFormulas = true
	}
	if f.horizontal {
		cfg.UI.HorizontalScroll = true
	}
	if f.noHeader {
		cfg.UI.HeaderRow = false
	}
	if flags.Changed("max-rows") {
		cfg.UI.MaxRows = f.maxRows
	}
	if flags.Changed("max-width") {
		cfg.UI.ColumnWidth = f.maxWidth
	}
	if f.logFile != "" {
		cfg.Logging.File = f.logFile
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging sends logs to the configured file; the terminal belongs to
// the viewer.
func setupLogging(cfg *config.Config) (func(), error) {
	path := cfg.Logging.File
	if path == "" {
		path = logging.DefaultPath()
	}
	file, err := logging.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, file)
	return func() { file.Close() }, nil
}

func runView(cmd *cobra.Command, f *rootFlags, args []string) error {
	if len(args) == 0 && f.demo <= 0 {
		return errors.New("missing FILE (or --demo ROWS)")
	}
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()
	if f.listTables {
		return listTables(out, args[0])
	}
	format := f.export
	if format == "" && !isTerminal(out) {
		format = string(export.Text)
	}
	if format != "" {
		return runExport(ctx, cfg, f, args, format, out)
	}
	return runTUI(ctx, cfg, f, args)
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

func openSource(ctx context.Context, cfg *config.Config, f *rootFlags, args []string) (storage.Source, error) {
	if f.demo > 0 {
		return storage.Demo(f.demo), nil
	}
	src, err := storage.Open(args[0], storage.Options{
		HeaderRow: cfg.UI.HeaderRow,
		Formulas:  cfg.UI.ShowFormulas,
	})
	if err != nil || f.table == "" {
		return src, err
	}
	x, ok := src.(*storage.XLSX)
	if !ok {
		src.Close()
		return nil, errors.New("--table needs an Excel workbook")
	}
	view, err := x.OpenTable(ctx, f.table)
	if err != nil {
		x.Close()
		return nil, err
	}
	return view, nil
}

func sheetIndex(src storage.Source, key string) (int, error) {
	if key == "" {
		return 0, nil
	}
	sheet, err := storage.FindSheet(src, key)
	if err != nil {
		return 0, err
	}
	return sheet.Index, nil
}

func runExport(ctx context.Context, cfg *config.Config, f *rootFlags, args []string, format string, out io.Writer) error {
	fm, err := export.ParseFormat(format)
	if err != nil {
		return err
	}
	src, err := openSource(ctx, cfg, f, args)
	if err != nil {
		return err
	}
	defer src.Close()
	index, err := sheetIndex(src, f.sheet)
	if err != nil {
		return err
	}
	opts := export.Options{
		Headers: cfg.UI.HeaderRow,
		Limit:   cfg.UI.MaxRows,
		Wrap:    f.wrap,
	}
	if f.wrap || f.maxWidth > 0 {
		opts.Width = cfg.UI.ColumnWidth
	}
	return export.Write(ctx, out, src, src.Sheets()[index], fm, opts)
}

func runTUI(ctx context.Context, cfg *config.Config, f *rootFlags, args []string) error {
	keys, err := keymap.New(cfg.Keybindings.Profile, cfg.Keybindings.Custom)
	if err != nil {
		return err
	}

	s, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("cannot create screen: %w", err)
	}
	if err := s.Init(); err != nil {
		return fmt.Errorf("cannot init screen: %w", err)
	}
	defer s.Fini()

	name := "demo sheet"
	if len(args) > 0 {
		name = filepath.Base(args[0])
	}
	if f.table != "" {
		name += " [" + f.table + "]"
	}
	src, err := app.Splash(ctx, s, name, func(ctx context.Context) (storage.Source, error) {
		return openSource(ctx, cfg, f, args)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return err
	}
	defer src.Close()

	index, err := sheetIndex(src, f.sheet)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, s, src, index, app.Options{Config: cfg, Keys: keys})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
