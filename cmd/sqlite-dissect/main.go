// Command sqlite-dissect is the CLI entry point: a github.com/spf13/cobra
// command tree in place of a plain argv switch (app/main.go). Flags
// assemble an internal/config.Config, internal/engine drives the run, and
// the process exit code follows a three-way contract: 0 on a clean run,
// 1 when strict-mode parsing hits a fatal error, 2 when the database or
// WAL file cannot be opened at all.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sqlitedissect/dissect/internal/config"
	"github.com/sqlitedissect/dissect/internal/diag"
	"github.com/sqlitedissect/dissect/internal/engine"
)

const (
	exitOK          = 0
	exitStrictFatal = 1
	exitIOFailure   = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		walPath        string
		journalPath    string
		noJournal      bool
		strict         bool
		outputDir      string
		filePrefix     string
		carve          bool
		carveFreelists bool
		tables         []string
		exemptTables   []string
		showSchema     bool
		schemaHistory  bool
		showSignatures bool
		logLevel       string
		warnings       bool
	)

	cmd := &cobra.Command{
		Use:   "sqlite-dissect <database>",
		Short: "Forensic reader for SQLite databases, WAL files, and rollback journals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level := parseLevel(logLevel)
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)

			cfg := config.New(
				config.WithDatabasePath(args[0]),
				config.WithWALPath(walPath),
				config.WithJournalPath(journalPath),
				config.WithNoJournal(noJournal),
				config.WithStrictFormatChecking(strict),
				config.WithOutputDirectory(outputDir),
				config.WithFilePrefix(filePrefix),
				config.WithCarve(carve),
				config.WithCarveFreelists(carveFreelists),
				config.WithTables(tables...),
				config.WithExemptedTables(exemptTables...),
				config.WithSchema(showSchema),
				config.WithSchemaHistory(schemaHistory),
				config.WithSignatures(showSignatures),
				config.WithLogLevel(level),
				config.WithWarnings(warnings),
			)

			if cfg.WALPath == "" {
				if _, err := os.Stat(cfg.DatabasePath + "-wal"); err == nil {
					cfg.WALPath = cfg.DatabasePath + "-wal"
				}
			}

			sink := diag.NewCollector()
			eng, err := engine.Open(cfg, sink)
			if err != nil {
				logger.Error("failed to open database", "error", err)
				var pathErr *os.PathError
				if errors.As(err, &pathErr) {
					return &ioFailure{err}
				}
				return &strictFailure{err}
			}
			defer eng.Close()

			ctx, cancel := engine.WithTimeout(context.Background())
			defer cancel()

			if err := eng.Run(ctx); err != nil {
				logger.Error("analysis run failed", "error", err)
				return &strictFailure{err}
			}

			if cfg.Warnings {
				for _, w := range sink.Warnings() {
					logger.Warn(w.String())
				}
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&walPath, "wal", "", "path to the -wal file (defaults to <database>-wal if present)")
	flags.StringVar(&journalPath, "journal", "", "path to the rollback-journal file")
	flags.BoolVar(&noJournal, "no-journal", false, "skip WAL/journal discovery, analyze the base file only")
	flags.BoolVar(&strict, "strict", true, "reject malformed structures instead of warning and continuing")
	flags.StringVar(&outputDir, "output-dir", ".", "directory for exported report files")
	flags.StringVar(&filePrefix, "file-prefix", "", "prefix for exported report file names")
	flags.BoolVar(&carve, "carve", false, "carve deleted records from page freeblocks")
	flags.BoolVar(&carveFreelists, "carve-freelists", false, "also carve unallocated space on table pages")
	flags.StringSliceVar(&tables, "tables", nil, "restrict analysis to these tables (default: all)")
	flags.StringSliceVar(&exemptTables, "exempt-tables", nil, "exclude these tables from analysis")
	flags.BoolVar(&showSchema, "schema", false, "print the parsed schema")
	flags.BoolVar(&schemaHistory, "schema-history", false, "print every version's commit, even when empty")
	flags.BoolVar(&showSignatures, "signatures", false, "print derived table signatures")
	flags.StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	flags.BoolVar(&warnings, "warnings", true, "emit non-fatal format warnings")

	if err := cmd.Execute(); err != nil {
		var sf *strictFailure
		var iof *ioFailure
		switch {
		case errors.As(err, &sf):
			fmt.Fprintln(os.Stderr, sf.err)
			return exitStrictFatal
		case errors.As(err, &iof):
			fmt.Fprintln(os.Stderr, iof.err)
			return exitIOFailure
		default:
			fmt.Fprintln(os.Stderr, err)
			return exitStrictFatal
		}
	}
	return exitOK
}

// strictFailure and ioFailure distinguish the two non-zero exit codes
// without cobra's RunE needing to know about os.Exit codes directly.
type strictFailure struct{ err error }
type ioFailure struct{ err error }

func (e *strictFailure) Error() string { return e.err.Error() }
func (e *ioFailure) Error() string     { return e.err.Error() }

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
