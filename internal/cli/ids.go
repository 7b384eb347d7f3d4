package cli

import (
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cabb/almabatch/internal/config"
	"github.com/cabb/almabatch/internal/extract"
	"github.com/cabb/almabatch/internal/logging"
	"github.com/cabb/almabatch/internal/sink"
	"github.com/cabb/almabatch/internal/store"
)

// idsSchema is the one-column identifier export.
//
//nolint:gochecknoglobals // Intentional: static schema.
var idsSchema = extract.MustSchema("ids", "1.0.0", extract.Placeholder(extract.ColumnMMSID))

// newIDsCmd creates the ids command that exports a collection's identifiers.
func newIDsCmd(deps Deps) *cobra.Command {
	var (
		collection collectionFlags
		output     string
	)

	cmd := &cobra.Command{
		Use:   "ids",
		Short: "Write the identifiers of a set or file as a one-column CSV",
		Long: `Enumerates a set (or reads a file), applies --limit, and writes the resulting
MMS IDs in order. The output can be fed back with --file.`,
		Example: `  # Snapshot a set's membership
  almabatch ids --set 7071087320004146 -o members.csv

  # Keep the last 100 members
  almabatch ids --set 7071087320004146 --limit -100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIDs(cmd, deps, &collection, output)
		},
	}

	collection.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default <output.dir>/ids_<timestamp>.csv)")
	return cmd
}

func runIDs(cmd *cobra.Command, deps Deps, collection *collectionFlags, output string) error {
	ctx := cmd.Context()
	cfg := config.GetGlobalConfig()

	state := loadState(ctx)
	if err := collection.resolve(cmd, state); err != nil {
		return err
	}

	// Files need no store; only set enumeration talks to Alma.
	var st store.RecordStore
	if collection.setID != "" {
		var err error
		if st, err = deps.NewStore(cfg); err != nil {
			return err
		}
	}

	col, err := collection.acquire(st, cfg.Batch.PageSize)(ctx)
	if err != nil {
		return err
	}

	if output == "" {
		output = filepath.Join(cfg.Output.Dir, "ids_"+time.Now().Format("20060102_150405")+".csv")
	}
	out, err := sink.Create(output, idsSchema, sink.Options{})
	if err != nil {
		return err
	}
	for _, id := range col.IDs {
		row := idsSchema.NewRow()
		row.Set(extract.ColumnMMSID, id)
		if err := out.Write(row); err != nil {
			_ = out.Close()
			return err
		}
	}
	if err := out.Close(); err != nil {
		return err
	}

	logging.FromContext(ctx).Info().
		Str("origin", col.Origin).
		Int("reported_total", col.ReportedTotal).
		Int("written", out.Count()).
		Str("path", out.Path()).
		Msg("identifiers exported")
	cmd.Printf("Wrote %d identifiers from %s to %s\n", out.Count(), col.Origin, out.Path())

	collection.remember(state)
	if state != nil {
		state.RecordUsage("ids")
	}
	saveState(ctx, state)
	return nil
}
