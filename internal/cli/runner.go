// Package cli implements the one-shot query client behind cmd/snowfake.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mkoering/snowfake/connector"
	"github.com/mkoering/snowfake/internal/config"
)

type Runner struct {
	out    io.Writer
	errOut io.Writer
}

func NewRunner(out, errOut io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Runner{out: out, errOut: errOut}
}

// Run connects to a running server, executes each argument statement in
// order, and prints the result rows. Returns a process exit code.
func (r *Runner) Run(ctx context.Context, args []string) int {
	defaults := config.Default()
	fs := flag.NewFlagSet("snowfake", flag.ContinueOnError)
	fs.SetOutput(r.errOut)
	host := fs.String("host", defaults.Host, "server host")
	port := fs.Int("port", defaults.Port, "server port")
	database := fs.String("database", "", "database to connect to")
	schema := fs.String("schema", "", "schema to connect to")
	timeout := fs.Duration("timeout", defaults.NetworkTimeout, "per-request network timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	statements := fs.Args()
	if len(statements) == 0 {
		fmt.Fprintln(r.errOut, "usage: snowfake [flags] <statement> [statement ...]")
		fs.PrintDefaults()
		return 2
	}

	conn, err := connector.Connect(ctx, connector.Config{
		Host:           *host,
		Port:           *port,
		Database:       *database,
		Schema:         *schema,
		NetworkTimeout: *timeout,
	})
	if err != nil {
		fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 1
	}
	defer conn.Close() //nolint:errcheck

	for _, stmt := range statements {
		res, err := conn.Execute(ctx, stmt)
		if err != nil {
			fmt.Fprintf(r.errOut, "error: %v\n", err)
			return 1
		}
		r.printResult(res)
	}
	return 0
}

func (r *Runner) printResult(res *connector.Result) {
	if len(res.Columns) > 0 {
		names := make([]string, 0, len(res.Columns))
		for _, col := range res.Columns {
			names = append(names, col.Name)
		}
		fmt.Fprintln(r.out, strings.Join(names, "\t"))
	}
	for _, row := range res.Rows {
		cells := make([]string, 0, len(row))
		for _, v := range row {
			cells = append(cells, formatValue(v))
		}
		fmt.Fprintln(r.out, strings.Join(cells, "\t"))
	}
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", t)
	}
}
