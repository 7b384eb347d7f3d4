package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cabb/almabatch/internal/config"
	"github.com/cabb/almabatch/internal/mutation"
	"github.com/cabb/almabatch/internal/pipeline"
	"github.com/cabb/almabatch/internal/record"
	"github.com/cabb/almabatch/internal/sink"
	"github.com/cabb/almabatch/internal/store"
)

type editFlags struct {
	collection    collectionFlags
	preset        string
	field         string
	target        string
	legacyPrefix  string
	legacyPattern string
	addIfAbsent   bool
	dryRun        bool
	refetch       bool
	audit         string
}

// newEditCmd creates the edit command that applies one rule to every record.
func newEditCmd(deps Deps) *cobra.Command {
	var flags editFlags

	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Apply an idempotent field edit to every record",
		Long: fmt.Sprintf(`Applies one rule to every record of a set or file and writes back only the
records it changed. Running the same edit twice changes nothing the second time.

A rule is either a preset (%s) or built from flags:
  --field     the field to maintain, e.g. dc:relation
  --target    the value the field should hold
  --legacy-prefix / --legacy-pattern
              values to replace with the target (or remove, without --target)
  --add-if-absent
              add the target when the field is missing`, strings.Join(mutation.PresetNames(), ", ")),
		Example: `  # Remove collection relations from a set, previewing first
  almabatch edit --preset clear-collection-relations --set 7071087320004146 --dry-run

  # Replace an old rights statement and add it where missing
  almabatch edit --file ids.csv --field dc:rights --target "In Copyright" \
    --legacy-pattern "^Copyright" --add-if-absent --audit out/rights_audit.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEdit(cmd, deps, &flags)
		},
	}

	flags.collection.register(cmd)
	cmd.Flags().StringVar(&flags.preset, "preset", "", "named rule: "+strings.Join(mutation.PresetNames(), ", "))
	cmd.Flags().StringVar(&flags.field, "field", "", "field selector such as dc:relation")
	cmd.Flags().StringVar(&flags.target, "target", "", "value the field should hold")
	cmd.Flags().StringVar(&flags.legacyPrefix, "legacy-prefix", "", "treat values with this prefix as legacy")
	cmd.Flags().StringVar(&flags.legacyPattern, "legacy-pattern", "", "treat values matching this regular expression as legacy")
	cmd.Flags().BoolVar(&flags.addIfAbsent, "add-if-absent", false, "add the target when the field has no values")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "compute outcomes without writing")
	cmd.Flags().BoolVar(&flags.refetch, "refetch", false, "re-read each record individually before editing it")
	cmd.Flags().StringVar(&flags.audit, "audit", "", "write a per-record change log to this CSV")
	cmd.MarkFlagsMutuallyExclusive("preset", "field")
	cmd.MarkFlagsMutuallyExclusive("legacy-prefix", "legacy-pattern")

	return cmd
}

// buildRule turns the edit flags into a validated rule.
func (f *editFlags) buildRule() (mutation.Rule, error) {
	if f.preset != "" {
		return mutation.LookupPreset(f.preset)
	}
	if f.field == "" {
		return mutation.Rule{}, errors.New("one of --preset or --field is required")
	}

	sel, err := record.ParseSelector(f.field)
	if err != nil {
		return mutation.Rule{}, err
	}
	rule := mutation.Rule{
		Name:        sel.String(),
		Field:       sel,
		Target:      f.target,
		AddIfAbsent: f.addIfAbsent,
	}
	switch {
	case f.legacyPrefix != "":
		rule.Legacy = mutation.PrefixMatcher(f.legacyPrefix)
	case f.legacyPattern != "":
		m, err := mutation.PatternMatcher(f.legacyPattern)
		if err != nil {
			return mutation.Rule{}, err
		}
		rule.Legacy = m
	}
	return rule, rule.Validate()
}

func runEdit(cmd *cobra.Command, deps Deps, flags *editFlags) error {
	ctx := cmd.Context()
	cfg := config.GetGlobalConfig()

	rule, err := flags.buildRule()
	if err != nil {
		return err
	}

	state := loadState(ctx)
	if err := flags.collection.resolve(cmd, state); err != nil {
		return err
	}

	st, err := deps.NewStore(cfg)
	if err != nil {
		return err
	}
	// Edits write whole documents back, so they must start from the
	// catalog's current copy.
	if cached, ok := st.(*store.Cached); ok {
		st = cached.Refreshing()
	}

	op, err := mutation.NewOperation(st, rule)
	if err != nil {
		return err
	}
	op.WithDryRun(flags.dryRun).WithRefetch(flags.refetch).WithAudit(flags.audit != "")

	exec, err := newExecution(cmd, deps, st, cfg)
	if err != nil {
		return err
	}

	var audit *sink.CSVSink
	if flags.audit != "" {
		path := flags.audit
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, fmt.Sprintf("edit_audit_%s.csv", time.Now().Format("20060102_150405")))
		}
		audit, err = sink.Create(path, mutation.AuditSchema, sink.Options{Mode: sink.ModeStreaming})
		if err != nil {
			return err
		}
		exec.runner.WithSink(audit)
	}

	summary, runErr := exec.run(ctx, flags.collection.acquire(st, cfg.Batch.PageSize), op)
	if audit != nil {
		if err := audit.Close(); err != nil && runErr == nil {
			runErr = fmt.Errorf("closing %s: %w", audit.Path(), err)
		}
	}
	if runErr != nil {
		return runErr
	}

	printOutcomes(cmd, summary, flags.dryRun)
	if audit != nil {
		cmd.Printf("Audit log: %s\n", audit.Path())
	}

	flags.collection.remember(state)
	if state != nil {
		state.RecordUsage("edit " + rule.Name)
	}
	saveState(ctx, state)

	logSummary(ctx, summary)
	return nil
}

// printOutcomes prints the edit tally.
func printOutcomes(cmd *cobra.Command, s pipeline.Summary, dryRun bool) {
	verb := "Updated"
	if dryRun {
		verb = "Would update"
	}
	changed := 0
	for _, o := range []pipeline.Outcome{
		pipeline.OutcomeChanged, pipeline.OutcomeAdded, pipeline.OutcomeDuplicatesRemoved,
	} {
		changed += s.Counters.ByOutcome[o]
	}
	cmd.Printf("%s %d records (%d already up to date, %d failed, %d not found)\n",
		verb, changed, s.Counters.ByOutcome[pipeline.OutcomeNoOp], s.Counters.Failed, s.Counters.Absent)
}
