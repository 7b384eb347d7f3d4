package cli

import (
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cabb/almabatch/internal/logging"
	"github.com/cabb/almabatch/internal/sink"
)

// newAnalyzeCmd creates the analyze command group for post-processing reports.
func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "analyze", Short: "Summarize report files"}
	cmd.AddCommand(newAnalyzeDecadesCmd())
	return cmd
}

func newAnalyzeDecadesCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "decades <decade-report.csv>",
		Short: "Count records per decade and half-decade",
		Long: `Reads a decade report and writes two distribution tables sorted by start
year, each ending with a TOTAL row. Rows without a year are counted separately.`,
		Example: `  almabatch analyze decades output/decade_v1_20260224_152304.csv
  almabatch analyze decades decade.csv --output-dir out/dist`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			dist, err := sink.AnalyzeFile(args[0])
			if err != nil {
				return err
			}

			dir := outDir
			if dir == "" {
				dir = filepath.Dir(args[0])
			}
			paths, err := dist.WriteFiles(dir, time.Now().Format("20060102_150405"))
			if err != nil {
				return err
			}

			logging.FromContext(ctx).Info().
				Int("dated", dist.Total).
				Int("no_date", dist.NoDate).
				Int("decades", len(dist.Decades)).
				Strs("paths", paths).
				Msg("distribution written")

			cmd.Printf("Records with a year: %d (without: %d)\n", dist.Total, dist.NoDate)
			for _, p := range paths {
				cmd.Printf("Wrote %s\n", p)
			}

			if state := loadState(ctx); state != nil {
				state.RecordUsage("analyze decades")
				saveState(ctx, state)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&outDir, "output-dir", "", "directory for the distribution files (default: next to the input)")
	return cmd
}
