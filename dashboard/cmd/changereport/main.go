// Command changereport prints the baseline-to-stress change of every feature
// in a feature table, followed by the biggest increase and decrease.
//
//	changereport -file features.csv -group-by dataset -feature HR_mean -feature EDA_mean
//	changereport -config config.yaml -source wesad -format json
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/stresslens/stresslens/dashboard/internal/compute"
	"github.com/stresslens/stresslens/dashboard/internal/config"
	"github.com/stresslens/stresslens/dashboard/internal/loader"
	"github.com/stresslens/stresslens/pkg/types"
)

// Exit codes.
const (
	exitOK    = 0
	exitInput = 1
	exitUsage = 2
)

// listFlag collects a repeatable, comma-separable string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			*l = append(*l, p)
		}
	}
	return nil
}

type options struct {
	configPath string
	sourceID   string
	file       string
	layout     string
	signal     string
	groupBy    listFlag
	features   listFlag
	datasets   listFlag
	subjects   listFlag
	format     string
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	slog.SetDefault(logger)

	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts options
	fs := flag.NewFlagSet("changereport", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "path to config file (use with -source)")
	fs.StringVar(&opts.sourceID, "source", "", "source id from the config file")
	fs.StringVar(&opts.file, "file", "", "path to a feature table (.csv or .tsv)")
	fs.StringVar(&opts.layout, "layout", config.LayoutAuto, "table layout: auto|long|trend|wide|paired")
	fs.StringVar(&opts.signal, "signal", "", "column whose value prefixes each feature name, e.g. signal")
	fs.Var(&opts.groupBy, "group-by", "grouping key: subject|dataset (repeatable)")
	fs.Var(&opts.features, "feature", "feature to include (repeatable; default all)")
	fs.Var(&opts.datasets, "dataset", "dataset to include (repeatable; default all)")
	fs.Var(&opts.subjects, "subject", "subject to include (repeatable; default all)")
	fs.StringVar(&opts.format, "format", "text", "output format: text|csv|json")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	src, conds, err := resolveSource(opts)
	if err != nil {
		fmt.Fprintf(stderr, "changereport: %v\n", err)
		return exitUsage
	}
	switch opts.format {
	case "text", "csv", "json":
	default:
		fmt.Fprintf(stderr, "changereport: unknown format %q: want text|csv|json\n", opts.format)
		return exitUsage
	}

	dims := make([]types.Dimension, 0, len(src.GroupBy))
	for _, g := range src.GroupBy {
		d, err := types.ParseDimension(g)
		if err != nil {
			fmt.Fprintf(stderr, "changereport: %v\n", err)
			return exitUsage
		}
		dims = append(dims, d)
	}

	l, err := loader.New(src, conds)
	if err != nil {
		fmt.Fprintf(stderr, "changereport: %v\n", err)
		return exitUsage
	}
	res, err := l.Load(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "changereport: %v\n", err)
		return exitInput
	}
	if res.Err != nil {
		fmt.Fprintln(stderr, guidance(res.Err))
		return exitInput
	}
	var missing []string
	for _, d := range dims {
		if !res.HasDimension(d) {
			missing = append(missing, string(d))
		}
	}
	if len(missing) > 0 {
		fmt.Fprintln(stderr, guidance(&loader.SchemaError{Path: res.Path, Missing: missing, Available: res.Header}))
		return exitInput
	}

	ms, err := compute.Select(res.Measurements, compute.Filter{
		Datasets: opts.datasets,
		Subjects: opts.subjects,
		Features: src.Features,
	})
	if errors.Is(err, compute.ErrEmptySelection) {
		fmt.Fprintln(stdout, "no rows match the selection; nothing to report")
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "changereport: %v\n", err)
		return exitInput
	}

	summaries := compute.Summarize(ms, dims...)
	ext, found := compute.Extremes(summaries, nil)

	switch opts.format {
	case "csv":
		err = writeCSV(stdout, summaries)
	case "json":
		err = writeJSON(stdout, summaries, ext, found)
	default:
		err = writeText(stdout, summaries, ext, found)
	}
	if err != nil {
		fmt.Fprintf(stderr, "changereport: write output: %v\n", err)
		return exitInput
	}
	return exitOK
}

// resolveSource builds the source to report on from either -config/-source
// or -file/-layout, then applies the -group-by and -feature overrides.
func resolveSource(opts options) (config.Source, config.ConditionsConfig, error) {
	var (
		src   config.Source
		conds config.ConditionsConfig
	)
	switch {
	case opts.configPath != "":
		if opts.sourceID == "" {
			return src, conds, errors.New("-source is required with -config")
		}
		cfg, err := config.Load(opts.configPath)
		if err != nil {
			return src, conds, err
		}
		s, ok := cfg.SourceByID(opts.sourceID)
		if !ok {
			return src, conds, fmt.Errorf("source %q not found in %s", opts.sourceID, opts.configPath)
		}
		src, conds = s, cfg.Dashboard.Conditions

	case opts.file != "":
		layout := strings.ToLower(opts.layout)
		if !config.ValidLayout(layout) {
			return src, conds, fmt.Errorf("unknown layout %q: want auto|long|trend|wide|paired", opts.layout)
		}
		src = config.Source{ID: "file", Path: opts.file, Layout: layout, Columns: config.Columns{Signal: opts.signal}}
		conds = config.Default().Dashboard.Conditions

	default:
		return src, conds, errors.New("either -file or -config with -source is required")
	}

	if len(opts.groupBy) > 0 {
		src.GroupBy = opts.groupBy
	}
	if len(opts.features) > 0 {
		src.Features = opts.features
	}
	return src, conds, nil
}

// guidance turns a load error into the message shown to the user.
func guidance(err error) string {
	var schemaErr *loader.SchemaError
	switch {
	case errors.Is(err, loader.ErrMissingInput):
		return fmt.Sprintf("%v\nRun the feature extraction step that writes this table, then try again.", err)
	case errors.As(err, &schemaErr):
		return fmt.Sprintf("%s does not match the expected layout: missing %s.\nAvailable columns: %s\nUse -layout to pick the layout explicitly.",
			schemaErr.Path, strings.Join(schemaErr.Missing, ", "), strings.Join(schemaErr.Available, ", "))
	default:
		return fmt.Sprintf("cannot read table: %v", err)
	}
}

func writeText(w io.Writer, summaries []types.FeatureSummary, ext types.Extremes, found bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tFEATURE\tBASELINE\tSTRESS\tCHANGE %")
	for _, s := range summaries {
		group := s.Group
		if group == "" {
			group = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.4g\t%.4g\t%+.2f\n", group, s.Feature, s.BaselineMean, s.StressMean, s.ChangePct)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if !found {
		_, err := fmt.Fprintln(w, "\nno feature has a defined change (zero or missing baseline)")
		return err
	}
	_, err := fmt.Fprintf(w, "\nbiggest increase: %s (%+.2f%%)\nbiggest decrease: %s (%+.2f%%)\n",
		label(ext.Increase), ext.Increase.ChangePct, label(ext.Decrease), ext.Decrease.ChangePct)
	return err
}

func label(s types.FeatureSummary) string {
	if s.Group == "" {
		return s.Feature
	}
	return s.Group + types.GroupSeparator + s.Feature
}

func writeCSV(w io.Writer, summaries []types.FeatureSummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"group", "feature", "baseline_mean", "stress_mean", "change_pct"}); err != nil {
		return err
	}
	for _, s := range summaries {
		rec := []string{
			s.Group,
			s.Feature,
			strconv.FormatFloat(s.BaselineMean, 'g', -1, 64),
			strconv.FormatFloat(s.StressMean, 'g', -1, 64),
			strconv.FormatFloat(s.ChangePct, 'g', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type report struct {
	Changes  []types.FeatureSummary `json:"changes"`
	Extremes *types.Extremes        `json:"extremes"`
}

func writeJSON(w io.Writer, summaries []types.FeatureSummary, ext types.Extremes, found bool) error {
	r := report{Changes: summaries}
	if found {
		r.Extremes = &ext
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
