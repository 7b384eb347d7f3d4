package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cabb/almabatch/internal/config"
	"github.com/cabb/almabatch/internal/extract"
	"github.com/cabb/almabatch/internal/linkcheck"
	"github.com/cabb/almabatch/internal/logging"
	"github.com/cabb/almabatch/internal/pipeline"
	"github.com/cabb/almabatch/internal/sink"
)

type reportFlags struct {
	collection  collectionFlags
	output      string
	sortBy      string
	appendTo    bool
	buffered    bool
	linkTimeout time.Duration
}

// newReportCmd creates the report command that exports one row per record.
func newReportCmd(deps Deps) *cobra.Command {
	var flags reportFlags

	cmd := &cobra.Command{
		Use:     "report <name>",
		Aliases: []string{"extract"},
		Short:   "Export a report with one row per record",
		Long: fmt.Sprintf(`Fetches every record of a set or file in chunks of up to 100 and writes one
CSV row per record.

Available reports: %s

Rows are flushed as they are written unless --buffered or --sort is given,
in which case they are sorted and written when the run ends. The
handle-validation report checks every handle (HEAD, then GET) and is
always sorted by status code and result.`, strings.Join(extract.ReportNames(), ", ")),
		Example: `  # Decade report for a whole set
  almabatch report decade --set 7071087320004146

  # Dublin Core export of the last 20 identifiers in a file
  almabatch report dublin-core --file ids.csv --limit -20

  # Append to an earlier file of the same report version
  almabatch report decade --set 7071087320004146 --output out/decade_v1_20260101_000000.csv --append`,
		Args: cobra.ExactArgs(1),
		ValidArgs: extract.ReportNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, deps, args[0], &flags)
		},
	}

	flags.collection.register(cmd)
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "output file (default <output.dir>/<report>_v<major>_<timestamp>.csv)")
	cmd.Flags().StringVar(&flags.sortBy, "sort", "", `sort rows at the end, e.g. "Year:asc,Title:desc"`)
	cmd.Flags().BoolVar(&flags.appendTo, "append", false, "append to an existing output file with the same header")
	cmd.Flags().BoolVar(&flags.buffered, "buffered", false, "hold rows until the run ends")
	cmd.Flags().DurationVar(&flags.linkTimeout, "link-timeout", linkcheck.DefaultTimeout, "per-request timeout for link checks")
	cmd.MarkFlagsMutuallyExclusive("append", "sort")

	return cmd
}

func runReport(cmd *cobra.Command, deps Deps, name string, flags *reportFlags) error {
	ctx := cmd.Context()
	log := logging.FromContext(ctx)
	cfg := config.GetGlobalConfig()

	report, err := extract.LookupReport(name)
	if err != nil {
		return err
	}

	state := loadState(ctx)
	if err := flags.collection.resolve(cmd, state); err != nil {
		return err
	}

	opts, err := sinkOptions(report, flags, cfg)
	if err != nil {
		return err
	}
	path := flags.output
	if path == "" {
		path = filepath.Join(cfg.Output.Dir, report.FileName(time.Now()))
	}

	st, err := deps.NewStore(cfg)
	if err != nil {
		return err
	}

	out, err := sink.Create(path, report.Schema, opts)
	if err != nil {
		return err
	}

	var enrichers []pipeline.Enricher
	if name == extract.ReportHandleValidation {
		checker := linkcheck.New(linkcheck.Config{Timeout: flags.linkTimeout, Transport: deps.LinkTransport})
		enrichers = append(enrichers, linkcheck.NewHandleEnricher(checker))
	}
	op := pipeline.NewExtractOperation(report.Schema, enrichers...)

	exec, err := newExecution(cmd, deps, st, cfg)
	if err != nil {
		_ = out.Close()
		return err
	}
	exec.runner.WithSink(out)

	summary, runErr := exec.run(ctx, flags.collection.acquire(st, cfg.Batch.PageSize), op)
	closeErr := out.Close()

	stats := op.Mapper.Stats()
	log.Info().
		Str("report", name).
		Str("path", out.Path()).
		Int("rows", out.Count()).
		Int("malformed", stats.Malformed).
		Int(extract.CounterNoDate, stats.Counters[extract.CounterNoDate]).
		Msg("report written")

	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return fmt.Errorf("closing %s: %w", out.Path(), closeErr)
	}

	cmd.Printf("Wrote %d rows to %s\n", out.Count(), out.Path())
	if name == extract.ReportDecade {
		cmd.Printf("Records without a four-digit year: %d\n", stats.Counters[extract.CounterNoDate])
	}

	flags.collection.remember(state)
	if state != nil {
		state.RecordUsage("report " + name)
	}
	saveState(ctx, state)

	logSummary(ctx, summary)
	return nil
}

// sinkOptions chooses buffered or streaming output for a report.
func sinkOptions(report *extract.Report, flags *reportFlags, cfg *config.Config) (sink.Options, error) {
	opts := sink.Options{Mode: sink.ModeStreaming, Append: flags.appendTo}
	if !cfg.Output.FlushEachRow || flags.buffered {
		opts.Mode = sink.ModeBuffered
	}

	spec := flags.sortBy
	if spec == "" && !flags.appendTo {
		spec = report.SortBy
	}
	if spec != "" {
		keys, err := sink.ParseSortSpec(spec, report.Schema)
		if err != nil {
			return sink.Options{}, err
		}
		opts.SortBy = keys
		opts.Mode = sink.ModeBuffered
	}
	if flags.appendTo {
		opts.Mode = sink.ModeStreaming
	}
	return opts, nil
}
