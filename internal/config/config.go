// Package config implements a functional-options configuration record
// (app/config.go's DatabaseConfig/DatabaseOption pattern, generalized)
// for the full set of flags the driver assembles. Its LIFO ResourceManager
// closes the handles registered with it (internal/engine registers the
// database file).
package config

import (
	"io"
	"log/slog"
)

// ExportFormat is one of the writer sinks the core can pass commit
// events to; the writers themselves are out of scope, but the config
// record still carries the requested subset through.
type ExportFormat string

const (
	ExportText   ExportFormat = "text"
	ExportCSV    ExportFormat = "csv"
	ExportSQLite ExportFormat = "sqlite"
	ExportXLSX   ExportFormat = "xlsx"
	ExportCASE   ExportFormat = "case"
)

// Config is the frozen configuration record the core consumes.
type Config struct {
	DatabasePath string
	WALPath      string
	JournalPath  string
	NoJournal    bool

	StrictFormatChecking bool

	ExportFormats   []ExportFormat
	OutputDirectory string
	FilePrefix      string

	Carve         bool
	CarveFreelists bool

	Tables         []string
	ExemptedTables []string

	Schema        bool
	SchemaHistory bool
	Signatures    bool

	LogLevel slog.Level
	LogFile  string
	Warnings bool
}

// Option mutates a Config being assembled.
type Option func(*Config)

// Default returns the configuration the CLI falls back to when a flag
// is not given explicitly.
func Default() *Config {
	return &Config{
		StrictFormatChecking: true,
		ExportFormats:        []ExportFormat{ExportText},
		OutputDirectory:      ".",
		FilePrefix:           "",
		LogLevel:             slog.LevelInfo,
		Warnings:             true,
	}
}

func WithDatabasePath(path string) Option { return func(c *Config) { c.DatabasePath = path } }
func WithWALPath(path string) Option      { return func(c *Config) { c.WALPath = path } }
func WithJournalPath(path string) Option  { return func(c *Config) { c.JournalPath = path } }
func WithNoJournal(v bool) Option         { return func(c *Config) { c.NoJournal = v } }
func WithStrictFormatChecking(v bool) Option {
	return func(c *Config) { c.StrictFormatChecking = v }
}
func WithExportFormats(formats ...ExportFormat) Option {
	return func(c *Config) { c.ExportFormats = formats }
}
func WithOutputDirectory(dir string) Option { return func(c *Config) { c.OutputDirectory = dir } }
func WithFilePrefix(prefix string) Option   { return func(c *Config) { c.FilePrefix = prefix } }
func WithCarve(v bool) Option               { return func(c *Config) { c.Carve = v } }
func WithCarveFreelists(v bool) Option      { return func(c *Config) { c.CarveFreelists = v } }
func WithTables(tables ...string) Option    { return func(c *Config) { c.Tables = tables } }
func WithExemptedTables(tables ...string) Option {
	return func(c *Config) { c.ExemptedTables = tables }
}
func WithSchema(v bool) Option        { return func(c *Config) { c.Schema = v } }
func WithSchemaHistory(v bool) Option  { return func(c *Config) { c.SchemaHistory = v } }
func WithSignatures(v bool) Option     { return func(c *Config) { c.Signatures = v } }
func WithLogLevel(level slog.Level) Option { return func(c *Config) { c.LogLevel = level } }
func WithLogFile(path string) Option  { return func(c *Config) { c.LogFile = path } }
func WithWarnings(v bool) Option      { return func(c *Config) { c.Warnings = v } }

// New builds a Config starting from Default and applying opts in order.
func New(opts ...Option) *Config {
	cfg := Default()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// IncludesTable reports whether name passes the tables/exempted_tables
// filters: included if Tables is empty or contains name, and not present
// in ExemptedTables.
func (c *Config) IncludesTable(name string) bool {
	for _, ex := range c.ExemptedTables {
		if ex == name {
			return false
		}
	}
	if len(c.Tables) == 0 {
		return true
	}
	for _, t := range c.Tables {
		if t == name {
			return true
		}
	}
	return false
}

// ResourceManager closes every managed resource in LIFO order (app/config.go's
// ResourceManager), guaranteeing the database file handle closes
// last-opened-first-closed relative to any WAL/journal/output file
// handles registered after it.
type ResourceManager struct {
	resources []io.Closer
	cleaners  []func() error
}

func NewResourceManager() *ResourceManager {
	return &ResourceManager{}
}

func (rm *ResourceManager) Add(resource io.Closer) {
	rm.resources = append(rm.resources, resource)
}

func (rm *ResourceManager) AddCleaner(cleaner func() error) {
	rm.cleaners = append(rm.cleaners, cleaner)
}

// Close runs cleaners then closes resources, both LIFO, returning the
// last error encountered (if any) after attempting every step.
func (rm *ResourceManager) Close() error {
	var lastErr error
	for i := len(rm.cleaners) - 1; i >= 0; i-- {
		if err := rm.cleaners[i](); err != nil {
			lastErr = err
		}
	}
	for i := len(rm.resources) - 1; i >= 0; i-- {
		if err := rm.resources[i].Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
