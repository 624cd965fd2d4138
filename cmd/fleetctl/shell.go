package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/segmentio/encoding/json"

	"github.com/fleetops/fleetring/internal/aggregate"
	"github.com/fleetops/fleetring/internal/errors"
	"github.com/fleetops/fleetring/internal/history"
	"github.com/fleetops/fleetring/internal/query"
	"github.com/fleetops/fleetring/internal/telemetry"
)

// command describes one shell command.
type command struct {
	usage string
	help  string
	run   func(sh *shell, ctx context.Context, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"keys":  {"keys", "list series", (*shell).cmdKeys},
		"last":  {"last <key> <n>", "newest n raw readings", (*shell).cmdLast},
		"all":   {"all <key>", "all retained raw readings", (*shell).cmdAll},
		"aggs":  {"aggs <key> [n]", "newest n closed windows (all if omitted)", (*shell).cmdAggs},
		"agg":   {"agg <key>", "aggregate over all retained raw readings", (*shell).cmdAgg},
		"range": {"range <key> <start> <end> [limit]", "exported and in-memory windows in [start, end)", (*shell).cmdRange},
		"sql":   {"sql <query>", "ad-hoc SQL; {{exports}} reads the export files", (*shell).cmdSQL},
		"stats": {"stats", "history statistics", (*shell).cmdStats},
		"help":  {"help", "show this help", (*shell).cmdHelp},
	}
}

// shell executes commands against a replayed store.
type shell struct {
	store *history.Store
	query *query.Service // nil when the query engine is disabled
	out   io.Writer
	json  bool
}

// exec runs one command line.
func (sh *shell) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, ok := commands[fields[0]]
	if !ok {
		return fmt.Errorf("unknown command %q (try 'help')", fields[0])
	}
	return cmd.run(sh, ctx, fields[1:])
}

// runBatch executes one command per line. Errors are reported and the
// batch continues; the first error is returned at the end.
func (sh *shell) runBatch(ctx context.Context, scanner *bufio.Scanner) error {
	var firstErr error
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := sh.exec(ctx, line); err != nil {
			fmt.Fprintf(sh.out, "error: %v\n", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return firstErr
}

// runPrompt starts the interactive shell.
func (sh *shell) runPrompt(ctx context.Context) {
	p := prompt.New(
		func(line string) {
			if err := sh.exec(ctx, line); err != nil {
				fmt.Fprintf(sh.out, "error: %v\n", err)
			}
		},
		sh.complete,
		prompt.OptionPrefix("fleetctl> "),
		prompt.OptionTitle("fleetctl"),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			in = strings.TrimSpace(in)
			return breakline && (in == "exit" || in == "quit")
		}),
	)
	p.Run()
}

func (sh *shell) complete(d prompt.Document) []prompt.Suggest {
	before := d.TextBeforeCursor()
	word := d.GetWordBeforeCursor()

	// First word: command names
	if !strings.Contains(before, " ") {
		s := make([]prompt.Suggest, 0, len(commands)+1)
		for _, name := range commandNames() {
			s = append(s, prompt.Suggest{Text: name, Description: commands[name].help})
		}
		s = append(s, prompt.Suggest{Text: "exit", Description: "leave the shell"})
		return prompt.FilterHasPrefix(s, word, true)
	}

	// Second word: series keys
	if len(strings.Fields(before)) == 1 || (len(strings.Fields(before)) == 2 && !strings.HasSuffix(before, " ")) {
		keys := sh.store.Keys()
		s := make([]prompt.Suggest, len(keys))
		for i, k := range keys {
			s[i] = prompt.Suggest{Text: k.String()}
		}
		return prompt.FilterHasPrefix(s, word, true)
	}
	return nil
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// Commands
// =============================================================================

func (sh *shell) cmdKeys(_ context.Context, _ []string) error {
	keys := sh.store.Keys()
	if sh.json {
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = k.String()
		}
		return sh.writeJSON(names)
	}
	for _, k := range keys {
		fmt.Fprintln(sh.out, k)
	}
	return nil
}

func (sh *shell) cmdLast(_ context.Context, args []string) error {
	if len(args) != 2 {
		return usageError("last")
	}
	key, err := telemetry.ParseKey(args[0])
	if err != nil {
		return err
	}
	n, err := parseCount(args[1])
	if err != nil {
		return err
	}
	readings, err := sh.store.Last(key, n)
	if err != nil {
		return err
	}
	return sh.writeReadings(readings)
}

func (sh *shell) cmdAll(_ context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("all")
	}
	key, err := telemetry.ParseKey(args[0])
	if err != nil {
		return err
	}
	readings, err := sh.store.All(key)
	if err != nil {
		return err
	}
	return sh.writeReadings(readings)
}

func (sh *shell) cmdAggs(_ context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usageError("aggs")
	}
	key, err := telemetry.ParseKey(args[0])
	if err != nil {
		return err
	}
	n := 0
	if len(args) == 2 {
		if n, err = parseCount(args[1]); err != nil {
			return err
		}
	}
	aggs, err := sh.store.Aggregates(key, n)
	if err != nil {
		return err
	}
	return sh.writeAggregates(aggs)
}

func (sh *shell) cmdAgg(_ context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("agg")
	}
	key, err := telemetry.ParseKey(args[0])
	if err != nil {
		return err
	}
	readings, err := sh.store.All(key)
	if err != nil {
		return err
	}
	agg, err := aggregate.Aggregate(readings)
	if err != nil {
		return err
	}
	return sh.writeAggregates([]telemetry.Aggregate{agg})
}

func (sh *shell) cmdRange(ctx context.Context, args []string) error {
	if len(args) < 3 || len(args) > 4 {
		return usageError("range")
	}
	if sh.query == nil {
		return fmt.Errorf("query engine disabled")
	}
	key, err := telemetry.ParseKey(args[0])
	if err != nil {
		return err
	}
	start, err := parseTime(args[1])
	if err != nil {
		return err
	}
	end, err := parseTime(args[2])
	if err != nil {
		return err
	}
	q := query.AggregateQuery{Key: key, Start: start, End: end}
	if len(args) == 4 {
		if q.Limit, err = parseCount(args[3]); err != nil {
			return err
		}
	}
	aggs, err := sh.query.Aggregates(ctx, q)
	if err != nil {
		return err
	}
	return sh.writeAggregates(aggs)
}

func (sh *shell) cmdSQL(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("sql")
	}
	if sh.query == nil {
		return fmt.Errorf("query engine disabled")
	}
	rows, err := sh.query.ExecuteSQL(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if sh.json {
		return sh.writeJSON(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(sh.out, "(no rows)")
		return nil
	}

	columns := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	tw := tabwriter.NewWriter(sh.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(columns, "\t"))
	for _, row := range rows {
		vals := make([]string, len(columns))
		for i, col := range columns {
			vals[i] = fmt.Sprint(row[col])
		}
		fmt.Fprintln(tw, strings.Join(vals, "\t"))
	}
	return tw.Flush()
}

func (sh *shell) cmdStats(_ context.Context, _ []string) error {
	st := sh.store.Stats()
	if sh.json {
		return sh.writeJSON(st)
	}
	tw := tabwriter.NewWriter(sh.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "series\t%d\n", st.Series)
	fmt.Fprintf(tw, "raw readings\t%d\n", st.RawReadings)
	fmt.Fprintf(tw, "raw pushed\t%d\n", st.RawPushed)
	fmt.Fprintf(tw, "raw evicted\t%d\n", st.RawEvicted)
	fmt.Fprintf(tw, "aggregates\t%d\n", st.Aggregates)
	fmt.Fprintf(tw, "aggregates evicted\t%d\n", st.AggregatesEvicted)
	fmt.Fprintf(tw, "late readings\t%d\n", st.LateReadings)
	fmt.Fprintf(tw, "pending readings\t%d\n", st.PendingReadings)
	return tw.Flush()
}

func (sh *shell) cmdHelp(_ context.Context, _ []string) error {
	tw := tabwriter.NewWriter(sh.out, 0, 4, 2, ' ', 0)
	for _, name := range commandNames() {
		c := commands[name]
		fmt.Fprintf(tw, "%s\t%s\n", c.usage, c.help)
	}
	fmt.Fprintln(tw, "exit\tleave the shell")
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "Keys are equipment/sensor. Times are RFC 3339 or Unix milliseconds.")
	return tw.Flush()
}

// =============================================================================
// Output
// =============================================================================

func (sh *shell) writeJSON(v any) error {
	enc := json.NewEncoder(sh.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (sh *shell) writeReadings(readings []telemetry.Reading) error {
	if sh.json {
		return sh.writeJSON(readings)
	}
	tw := tabwriter.NewWriter(sh.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tVALUE\tUNIT")
	for _, r := range readings {
		fmt.Fprintf(tw, "%s\t%g\t%s\n", formatMs(r.TimestampMs), r.Value, r.Unit)
	}
	return tw.Flush()
}

func (sh *shell) writeAggregates(aggs []telemetry.Aggregate) error {
	if sh.json {
		return sh.writeJSON(aggs)
	}
	tw := tabwriter.NewWriter(sh.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WINDOW\tMIN\tMAX\tAVG\tCOUNT")
	for _, a := range aggs {
		fmt.Fprintf(tw, "%s\t%g\t%g\t%g\t%d\n", formatMs(a.TimestampMs), a.Min, a.Max, a.Avg, a.Count)
	}
	return tw.Flush()
}

func formatMs(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z")
}

// =============================================================================
// Argument parsing
// =============================================================================

func usageError(name string) error {
	return fmt.Errorf("usage: %s: %w", commands[name].usage, errors.ErrInvalidInput)
}

func parseCount(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("count %q: %w", s, errors.ErrInvalidInput)
	}
	return n, nil
}

// parseTime accepts RFC 3339 or Unix milliseconds.
func parseTime(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("time %q: %w", s, errors.ErrInvalidInput)
	}
	return t, nil
}
