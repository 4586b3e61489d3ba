// Command tabledb inspects and maintains tabledb databases stored in Bolt
// files.
//
// Usage:
//
//	tabledb [-dir path] [-debug] [-verbose] <command> [arguments]
//
// Commands:
//
//	check <schema.json>                       validate a schema document
//	migrate <schema.json>                     open the database, creating or upgrading tables
//	dump <schema.json>                        print every table, record and index entry
//	insert <schema.json> <table> <json>       insert one record
//	select [flags] <schema.json> <table>      print matching records, one JSON object per line
//	rm <name>                                 delete a database
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/andreyvit/tabledb"
	"github.com/andreyvit/tabledb/objstore"
	"github.com/andreyvit/tabledb/schema"
)

// Version is set at build time via -ldflags.
var Version = "dev"

type app struct {
	dir     string
	debug   bool
	verbose bool
	logger  *zap.Logger
	stdout  io.Writer
	stderr  io.Writer
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	fs := flag.NewFlagSet("tabledb", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&a.dir, "dir", ".", "directory holding database files")
	fs.BoolVar(&a.debug, "debug", false, "human-readable debug logging")
	fs.BoolVar(&a.verbose, "verbose", false, "log every operation")
	showVersion := fs.Bool("version", false, "print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: tabledb [flags] check|migrate|dump|insert|select|rm ...\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Fprintf(stdout, "tabledb %s\n", Version)
		return 0
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	logger, err := newLogger(a.debug)
	if err != nil {
		fmt.Fprintf(stderr, "tabledb: failed to initialize logger: %v\n", err)
		return 1
	}
	defer logger.Sync()
	a.logger = logger

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "check":
		err = a.check(rest)
	case "migrate":
		err = a.migrate(ctx, rest)
	case "dump":
		err = a.dump(ctx, rest)
	case "insert":
		err = a.insert(ctx, rest)
	case "select":
		err = a.selectCmd(ctx, rest)
	case "rm":
		err = a.rm(ctx, rest)
	default:
		err = usageErrorf("unknown command %q", cmd)
	}

	var ue usageError
	var ce *tabledb.ConfigError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &ue):
		fmt.Fprintf(stderr, "tabledb: %v\n", err)
		fs.Usage()
		return 2
	case errors.As(err, &ce):
		fmt.Fprintf(stderr, "tabledb: invalid configuration:\n")
		for _, d := range ce.Details {
			fmt.Fprintf(stderr, "  %s: %s (%s)\n", strings.Join(d.Path, "."), d.Message, d.Type)
		}
		return 1
	default:
		fmt.Fprintf(stderr, "tabledb: %v\n", err)
		return 1
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		z := zap.NewDevelopmentConfig()
		z.OutputPaths = []string{"stderr"}
		return z.Build()
	}
	z := zap.NewProductionConfig()
	z.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return z.Build()
}

type usageError string

func (e usageError) Error() string { return string(e) }

func usageErrorf(format string, args ...any) error {
	return usageError(fmt.Sprintf(format, args...))
}

func (a *app) factory() *objstore.Factory {
	return objstore.NewBoltFactory(a.dir, objstore.Options{
		Logger:  a.logger.Named("objstore"),
		Verbose: a.verbose,
	})
}

func loadSchema(fn string) (*schema.Database, error) {
	data, err := os.ReadFile(fn)
	if err != nil {
		return nil, err
	}
	return schema.ParseJSON(data)
}

// open loads the schema and opens its database. The returned func closes
// both the database and the factory.
func (a *app) open(ctx context.Context, schemaFile string) (*tabledb.Database, func(), error) {
	scm, err := loadSchema(schemaFile)
	if err != nil {
		return nil, nil, err
	}
	f := a.factory()
	db, err := tabledb.New(scm, tabledb.Options{
		Factory: f,
		Logger:  a.logger,
		Verbose: a.verbose,
	})
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	closer := func() {
		db.Close()
		if err := f.Close(); err != nil {
			a.logger.Error("closing databases", zap.Error(err))
		}
	}
	if _, err := db.Connection(ctx); err != nil {
		closer()
		return nil, nil, err
	}
	return db, closer, nil
}

func (a *app) check(args []string) error {
	if len(args) != 1 {
		return usageErrorf("check takes a schema file")
	}
	scm, err := loadSchema(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s v%d: OK\n", scm.Name, scm.Version)
	for _, t := range scm.Tables {
		fmt.Fprintf(a.stdout, "  %s (key %q, auto_increment = %v, indexes = [%s], timestamps = %v, initial_rows = %d)\n",
			t.Name, t.KeyPath(), t.PrimaryKey.AutoIncrement, strings.Join(t.IndexNames(), ", "), t.Timestamps, len(t.InitialRows))
	}
	return nil
}

func (a *app) migrate(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageErrorf("migrate takes a schema file")
	}
	db, closer, err := a.open(ctx, args[0])
	if err != nil {
		return err
	}
	defer closer()
	for _, name := range db.Schema().TableNames() {
		n, err := must(db.Model(name)).Count(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "%s: %d records\n", name, n)
	}
	return nil
}

func (a *app) dump(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageErrorf("dump takes a schema file")
	}
	db, closer, err := a.open(ctx, args[0])
	if err != nil {
		return err
	}
	defer closer()
	s, err := db.Dump(ctx, objstore.DumpAll)
	if err != nil {
		return err
	}
	_, err = io.WriteString(a.stdout, s)
	return err
}

func (a *app) insert(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return usageErrorf("insert takes a schema file, a table name and a JSON record")
	}
	rec, err := parseRecord(args[2])
	if err != nil {
		return err
	}
	db, closer, err := a.open(ctx, args[0])
	if err != nil {
		return err
	}
	defer closer()
	m, err := db.Model(args[1])
	if err != nil {
		return err
	}
	key, err := m.Add(ctx, rec)
	if err != nil {
		return err
	}
	return json.NewEncoder(a.stdout).Encode(key)
}

func (a *app) selectCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("select", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	var where matchFlag
	fs.Var(&where, "where", "field=value condition, repeatable; records matching any condition are kept")
	sortBy := fs.String("sort", "", "comma-separated fields to sort by")
	desc := fs.Bool("desc", false, "reverse the sort order")
	limit := fs.Int("limit", 0, "maximum number of records, 0 for all")
	if err := fs.Parse(args); err != nil {
		return usageErrorf("%v", err)
	}
	if fs.NArg() != 2 {
		return usageErrorf("select takes a schema file and a table name")
	}

	db, closer, err := a.open(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	defer closer()
	m, err := db.Model(fs.Arg(1))
	if err != nil {
		return err
	}
	opt := tabledb.SelectOptions{
		OrderByDescending: *desc,
		Limit:             *limit,
	}
	if len(where) > 0 {
		opt.Where = tabledb.Match(where)
	}
	if *sortBy != "" {
		opt.SortBy = strings.Split(*sortBy, ",")
	}
	recs, err := m.Select(ctx, opt)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(a.stdout)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) rm(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageErrorf("rm takes a database name")
	}
	f := a.factory()
	defer f.Close()
	return tabledb.RemoveDatabase(ctx, f, args[0], a.logger)
}

// matchFlag collects -where field=value pairs. Values are parsed as JSON
// when possible, so -where age=30 matches the number 30.
type matchFlag tabledb.Match

func (m *matchFlag) String() string {
	return fmt.Sprint(map[string]any(*m))
}

func (m *matchFlag) Set(s string) error {
	field, raw, ok := strings.Cut(s, "=")
	if !ok || field == "" {
		return fmt.Errorf("expected field=value, got %q", s)
	}
	if *m == nil {
		*m = make(matchFlag)
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		v = raw
	}
	(*m)[field] = v
	return nil
}

func parseRecord(s string) (tabledb.Record, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("invalid record: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("invalid record: expected a JSON object")
	}
	return numbers(rec).(map[string]any), nil
}

// numbers converts json.Number values into int64 or float64.
func numbers(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case map[string]any:
		for k, e := range v {
			v[k] = numbers(e)
		}
		return v
	case []any:
		for i, e := range v {
			v[i] = numbers(e)
		}
		return v
	default:
		return v
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
