package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ehr/hl7gen/internal/batch"
	"github.com/ehr/hl7gen/internal/config"
	"github.com/ehr/hl7gen/internal/mapping"
	"github.com/ehr/hl7gen/internal/output"
	"github.com/ehr/hl7gen/internal/platform/db"
	"github.com/ehr/hl7gen/internal/platform/hl7v2"
	"github.com/ehr/hl7gen/internal/record"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "hl7gen",
		Short:        "Configuration-driven HL7 v2.5 ORU^R01 encoder",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("mapping", "", "mapping CSV file (overrides MAPPING_FILE)")

	rootCmd.AddCommand(encodeCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(mappingCmd())
	rootCmd.AddCommand(serveCmd())
	return rootCmd
}

func encodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode [record.json]",
		Short: "Encode one JSON record and print the message",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			enc, pool, err := newEncoder(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			if pool != nil {
				defer pool.Close()
			}

			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			msg, err := enc.EncodeJSON(data)
			if err != nil {
				return fmt.Errorf("encode: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <records.json>",
		Short: "Encode a JSON array of records into per-record message files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if v, _ := cmd.Flags().GetString("out"); v != "" {
				cfg.OutputDir = v
			}
			if v, _ := cmd.Flags().GetString("prefix"); v != "" {
				cfg.OutputPrefix = v
			}
			if cmd.Flags().Changed("workers") {
				cfg.BatchWorkers, _ = cmd.Flags().GetInt("workers")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			enc, pool, err := newEncoder(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			if pool != nil {
				defer pool.Close()
			}

			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			items, err := record.ParseJSONList(data)
			if err != nil {
				return fmt.Errorf("batch: %w", err)
			}

			runner := batch.NewRunner(enc, batch.Config{Workers: cfg.BatchWorkers}, logger)
			sum := runner.Run(cmd.Context(), items)

			w, err := output.NewWriter(afero.NewOsFs(), cfg.OutputDir, cfg.OutputPrefix)
			if err != nil {
				return err
			}
			m, err := w.Write(sum)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "processed %d record(s): %d successful, %d failed; wrote %d file(s) to %s\n",
				sum.Total, sum.Successful, sum.Failed, len(m.Files), cfg.OutputDir)
			return nil
		},
	}

	cmd.Flags().String("out", "", "output directory (overrides OUTPUT_DIR)")
	cmd.Flags().String("prefix", "", "output file prefix (overrides OUTPUT_PREFIX)")
	cmd.Flags().Int("workers", 0, "concurrent encodings, 0 for one per CPU (overrides BATCH_WORKERS)")
	return cmd
}

func mappingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Inspect and manage the field mapping",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Compile the configured mapping and print its layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			compiled, pool, err := loadMapping(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			if pool != nil {
				defer pool.Close()
			}
			printMapping(cmd.OutOrStdout(), compiled)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import <mapping.csv>",
		Short: "Replace the PostgreSQL mapping table with a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for mapping import")
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			rows, err := readMappingRows(args[0])
			if err != nil {
				return err
			}
			// Refuse to store a table that would not compile.
			if _, err := mapping.Compile(rows); err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns}, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := mapping.EnsureSchema(ctx, pool); err != nil {
				return err
			}
			if err := mapping.NewRepoPG(pool).ReplaceRows(ctx, rows); err != nil {
				return err
			}
			logger.Info().Int("rows", len(rows)).Str("file", args[0]).Msg("mapping imported")
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d mapping row(s)\n", len(rows))
			return nil
		},
	})

	return cmd
}

// loadConfig reads the environment, applies the persistent --mapping flag
// and validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("mapping"); v != "" {
		cfg.MappingFile = v
		cfg.MappingSource = config.SourceCSV
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// loadMapping compiles the mapping from the configured source. The returned
// pool is non-nil only for the postgres source and must be closed by the
// caller.
func loadMapping(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*mapping.CompiledConfig, *pgxpool.Pool, error) {
	if !cfg.UsesPostgres() {
		compiled, err := mapping.LoadCSVFile(cfg.MappingFile)
		if err != nil {
			return nil, nil, err
		}
		logger.Debug().Str("file", cfg.MappingFile).Msg("mapping loaded")
		return compiled, nil, nil
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns}, logger)
	if err != nil {
		return nil, nil, err
	}
	compiled, err := mapping.LoadFromRepository(ctx, mapping.NewRepoPG(pool))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return compiled, pool, nil
}

func newEncoder(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*hl7v2.Encoder, *pgxpool.Pool, error) {
	compiled, pool, err := loadMapping(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	enc, err := hl7v2.NewEncoder(compiled, encoderOptions(cfg))
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, nil, err
	}
	return enc, pool, nil
}

func encoderOptions(cfg *config.Config) hl7v2.Options {
	return hl7v2.Options{
		SendingApp:        cfg.SendingApp,
		SendingFacility:   cfg.SendingFacility,
		ReceivingApp:      cfg.ReceivingApp,
		ReceivingFacility: cfg.ReceivingFacility,
		ClinicTimezone:    cfg.ClinicTimezone,
		TrailerCount:      hl7v2.TrailerCount(cfg.TrailerCount),
		CountTrailer:      cfg.CountTrailer,
	}
}

func readMappingRows(path string) ([]mapping.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	t, err := mapping.ReadCSV(f)
	if err != nil {
		return nil, err
	}
	return t.Rows()
}

// readInput reads the named file, or stdin when no file or "-" is given.
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", args[0], err)
	}
	return data, nil
}

func printMapping(w io.Writer, cfg *mapping.CompiledConfig) {
	fmt.Fprintln(w, "segments:")
	for _, name := range cfg.SegmentOrder() {
		seg := cfg.Segment(name)
		fmt.Fprintf(w, "  %s (%d field(s))\n", name, seg.Len())
		for _, f := range seg.Fields() {
			fmt.Fprintf(w, "    %3d %-28s %s^%s %s\n", f.Sequence, f.Attribute, f.Identifier, f.DisplayName, f.DataType)
		}
	}

	fmt.Fprintln(w, "groups:")
	tags := cfg.GroupOrder()
	obr := cfg.Segment("OBR")
	for _, tag := range tags {
		parent := "(no OBR row)"
		if f, ok := obr.Lookup(tag); ok {
			parent = f.Identifier + "^" + f.DisplayName
		}
		fmt.Fprintf(w, "  %s -> %s\n", tag, parent)
		for _, f := range cfg.Group(tag) {
			unit := f.Unit
			if unit == "" {
				unit = "-"
			}
			fmt.Fprintf(w, "    %3d %-28s %s^%s %s %s\n", f.Sequence, f.Attribute, f.Identifier, f.DisplayName, f.DataType, unit)
		}
	}

	var unbound []string
	for _, f := range obr.Fields() {
		if len(cfg.Group(f.Attribute)) == 0 {
			unbound = append(unbound, f.Attribute)
		}
	}
	sort.Strings(unbound)
	for _, a := range unbound {
		fmt.Fprintf(w, "warning: OBR %s has no OBX rows\n", a)
	}
}
