package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tordrt/syncforge"
	"github.com/tordrt/syncforge/internal/config"
	"github.com/tordrt/syncforge/internal/formatter"
	"github.com/tordrt/syncforge/internal/generator"
	"github.com/tordrt/syncforge/internal/logging"
	"github.com/tordrt/syncforge/internal/schema"
	"github.com/tordrt/syncforge/internal/storage"
)

var (
	envFile       string
	sourceURL     string
	targetURL     string
	schemaName    string
	tables        string
	excludeTables string
	logLevel      string
	logFormat     string
	outputFile    string
	outputDir     string
	format        string
	ifExists      bool
	transaction   bool
	hashThreshold int64
	maxChanges    int
	noProgress    bool
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "syncforge",
		Short: "Compare database schemas and data and generate sync SQL",
		Long: `Syncforge compares two databases (PostgreSQL, MySQL, SQLite or SQL Server, in any combination)
and prints the SQL that would bring the target in line with the source. Nothing is executed.`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&envFile, "env-file", ".env", "Load environment variables from this file if it exists")
	pf.StringVar(&sourceURL, "source", "", "Source database URL or snapshot file (env "+config.EnvSourceURL+")")
	pf.StringVar(&targetURL, "target", "", "Target database URL or snapshot file (env "+config.EnvTargetURL+")")
	pf.StringVarP(&schemaName, "schema", "s", "", "Database schema name (default: public for PostgreSQL, dbo for SQL Server)")
	pf.StringVarP(&tables, "tables", "t", "", "Specific tables (comma-separated, optional)")
	pf.StringVarP(&excludeTables, "exclude-tables", "x", "", "Tables to skip (comma-separated, optional)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
	pf.StringVar(&logFormat, "log-format", "", "Log format: text or json")
	pf.StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	pf.StringVarP(&outputDir, "output-dir", "d", "", "Output directory for multi-file output")
	pf.StringVarP(&format, "format", "f", "text", "Output format: text or markdown")
	pf.BoolVar(&ifExists, "if-exists", false, "Guard statements with existence checks where the target supports them")
	pf.BoolVar(&transaction, "transaction", true, "Wrap the generated statements in a transaction")

	rootCmd.AddCommand(newSnapshotCmd(), newDiffCmd(), newDataCmd())
	return rootCmd
}

func newSnapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Capture the source schema into a snapshot file",
		Long: `Capture the source schema and write it as JSON. A file name ending in .xz is compressed.
The snapshot can later stand in for a database in the diff command.`,
		Args: cobra.NoArgs,
		RunE: runSnapshot,
	}
}

func newDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff",
		Short: "Generate the DDL that turns the target schema into the source schema",
		Args:  cobra.NoArgs,
		RunE:  runDiff,
	}
}

func newDataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Generate the row statements that make the target data match the source",
		Args:  cobra.NoArgs,
		RunE:  runData,
	}
	cmd.Flags().Int64Var(&hashThreshold, "hash-threshold", 0, "Compare text and binary values above this many bytes by hash")
	cmd.Flags().IntVar(&maxChanges, "max-changes", 0, "Abort a table's comparison after this many changes (0: no limit)")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Do not show progress bars")
	return cmd
}

// loadConfig layers defaults, the env file, the environment and explicitly
// set flags, in that order
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("source") {
		cfg.SourceURL = sourceURL
	}
	if flags.Changed("target") {
		cfg.TargetURL = targetURL
	}
	if flags.Changed("schema") {
		cfg.SchemaName = schemaName
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	if flags.Changed("if-exists") {
		cfg.IfExists = ifExists
	}
	if flags.Changed("transaction") {
		cfg.Transaction = transaction
	}
	if flags.Changed("hash-threshold") {
		cfg.HashThreshold = hashThreshold
	}
	if flags.Changed("max-changes") {
		cfg.MaxChanges = maxChanges
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.InitLogging(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runContext returns a context carrying a fresh run ID
func runContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return logging.WithRunID(ctx, uuid.NewString())
}

func connOptions(cfg *config.Config) *syncforge.Options {
	return &syncforge.Options{
		Tables:        splitList(tables),
		ExcludeTables: splitList(excludeTables),
		SchemaName:    cfg.SchemaName,
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// isDatabaseURL tells database URLs apart from snapshot file paths
func isDatabaseURL(s string) bool {
	return strings.Contains(s, "://")
}

func connect(ctx context.Context, role, url string, cfg *config.Config) (*syncforge.Conn, error) {
	if url == "" {
		return nil, fmt.Errorf("--%s is required", role)
	}
	c, err := syncforge.Connect(ctx, url, connOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", role, err)
	}
	return c, nil
}

func closeConn(role string, c *syncforge.Conn) {
	if err := c.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to close %s connection: %v\n", role, err)
	}
}

// loadSide resolves a diff input: a snapshot file is read from disk, a URL
// is connected to and captured
func loadSide(ctx context.Context, role, input string, cfg *config.Config) (*schema.Snapshot, error) {
	if input == "" {
		return nil, fmt.Errorf("--%s is required", role)
	}
	if !isDatabaseURL(input) {
		snap, err := storage.Load(input)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", role, err)
		}
		return snap, nil
	}

	c, err := connect(ctx, role, input, cfg)
	if err != nil {
		return nil, err
	}
	defer closeConn(role, c)

	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to capture schema: %w", role, err)
	}
	return snap, nil
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := runContext(cmd)

	c, err := connect(ctx, "source", cfg.SourceURL, cfg)
	if err != nil {
		return err
	}
	defer closeConn("source", c)

	snap, err := c.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to capture schema: %w", err)
	}
	logging.FromContext(ctx).Info("schema captured", "tables", len(snap.Tables), "skipped", len(snap.Skipped))

	if outputFile == "" {
		return storage.Encode(cmd.OutOrStdout(), snap, false)
	}
	if err := storage.Save(outputFile, snap); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func runDiff(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := runContext(cmd)

	src, err := loadSide(ctx, "source", cfg.SourceURL, cfg)
	if err != nil {
		return err
	}
	tgt, err := loadSide(ctx, "target", cfg.TargetURL, cfg)
	if err != nil {
		return err
	}

	res := syncforge.DiffSchema(src, tgt)
	logging.FromContext(ctx).Info("schema compared", "ops", len(res.Ops), "notices", len(res.Notices))

	stmts, err := syncforge.RenderSchema(res, generator.Options{IfExists: cfg.IfExists, Transaction: cfg.Transaction})
	if err != nil {
		return fmt.Errorf("failed to generate DDL: %w", err)
	}

	plan := &formatter.Plan{
		Title:      "Schema changes",
		Source:     describe(src),
		Target:     describe(tgt),
		Statements: stmts,
	}
	for _, n := range res.Notices {
		plan.Notices = append(plan.Notices, n.String())
	}
	return writePlan(cmd.OutOrStdout(), plan)
}

func runData(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := runContext(cmd)

	source, err := connect(ctx, "source", cfg.SourceURL, cfg)
	if err != nil {
		return err
	}
	defer closeConn("source", source)
	target, err := connect(ctx, "target", cfg.TargetURL, cfg)
	if err != nil {
		return err
	}
	defer closeConn("target", target)

	srcSnap, tgtSnap, err := syncforge.SnapshotBoth(ctx, source, target)
	if err != nil {
		return fmt.Errorf("failed to capture schema: %w", err)
	}

	cmpOpts := cfg.CompareOptions()
	var bars *progressBars
	if !noProgress {
		bars = newProgressBars(cmd.ErrOrStderr())
		cmpOpts.Progress = bars.Updates()
	}

	result, err := syncforge.SyncData(ctx, source, target, srcSnap, tgtSnap, splitList(tables), cmpOpts,
		generator.Options{IfExists: cfg.IfExists, Transaction: cfg.Transaction})
	if bars != nil {
		bars.Finish(err == nil)
	}
	if err != nil {
		return err
	}

	plan := &formatter.Plan{
		Title:      "Data changes",
		Source:     describe(srcSnap),
		Target:     describe(tgtSnap),
		Statements: result.Statements,
	}
	for _, r := range result.Results {
		plan.Stats = append(plan.Stats, formatter.TableStats{Table: r.Table, Stats: r.Stats})
	}
	for _, name := range srcSnap.TableNames() {
		if reason, ok := result.Skipped[name]; ok {
			plan.Notices = append(plan.Notices, fmt.Sprintf("%s: not compared, %s", name, reason))
		}
	}
	return writePlan(cmd.OutOrStdout(), plan)
}

func describe(snap *schema.Snapshot) string {
	if snap.Database == "" {
		return snap.Dialect
	}
	return fmt.Sprintf("%s (%s)", snap.Dialect, snap.Database)
}

// writePlan renders a plan to the output directory, the output file or stdout
func writePlan(stdout io.Writer, plan *formatter.Plan) error {
	if outputDir != "" && outputFile != "" {
		return fmt.Errorf("cannot use both --output-dir and --output flags")
	}

	if outputDir != "" {
		if err := formatter.NewMultiFileFormatter(outputDir, format).Format(plan); err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		return nil
	}

	writer := stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() {
			if err := f.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to close output file: %v\n", err)
			}
		}()
		writer = f
	}

	var f formatter.Formatter
	switch format {
	case "text":
		f = formatter.NewTextFormatter(writer)
	case "markdown":
		f = formatter.NewMarkdownFormatter(writer)
	default:
		return fmt.Errorf("invalid format: %s (must be 'text' or 'markdown')", format)
	}
	if err := f.Format(plan); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
