package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cabb/almabatch/internal/cache"
	"github.com/cabb/almabatch/internal/config"
	"github.com/cabb/almabatch/internal/engine/batch"
	"github.com/cabb/almabatch/internal/logging"
	"github.com/cabb/almabatch/internal/pipeline"
	"github.com/cabb/almabatch/internal/source"
	"github.com/cabb/almabatch/internal/store"
	"github.com/cabb/almabatch/internal/tui"
)

// ErrNoCollection is returned when a command is given neither --set nor --file.
var ErrNoCollection = errors.New("one of --set or --file is required")

// collectionFlags select the identifiers a run works on.
type collectionFlags struct {
	setID  string
	file   string
	column string
	limit  int
	last   bool
}

func (f *collectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.setID, "set", "", "Alma set ID to enumerate")
	cmd.Flags().StringVar(&f.file, "file", "", "CSV or TSV file listing MMS IDs")
	cmd.Flags().StringVar(&f.column, "column", source.DefaultColumn, "identifier column name in --file")
	cmd.Flags().IntVar(&f.limit, "limit", 0,
		"process only the first N identifiers; a negative value keeps the last N (0 = all)")
	cmd.Flags().BoolVar(&f.last, "last", false, "reuse the set or file and limit of the previous run")
	cmd.MarkFlagsMutuallyExclusive("set", "file")
}

// resolve fills unset flags from the saved state when --last is given.
func (f *collectionFlags) resolve(cmd *cobra.Command, st *config.State) error {
	if f.last && st != nil && f.setID == "" && f.file == "" {
		f.setID = st.LastSetID
		f.file = st.LastInputFile
		if f.setID != "" && f.file != "" {
			f.file = ""
		}
		if !cmd.Flags().Changed("limit") {
			f.limit = st.LastLimit
		}
	}
	if f.setID == "" && f.file == "" {
		return ErrNoCollection
	}
	return nil
}

// remember records the collection in the saved state.
func (f *collectionFlags) remember(st *config.State) {
	if st == nil {
		return
	}
	if f.setID != "" {
		st.RememberSet(f.setID, f.limit)
		return
	}
	if abs, err := filepath.Abs(f.file); err == nil {
		st.RememberFile(abs, f.limit)
		return
	}
	st.RememberFile(f.file, f.limit)
}

// acquire returns the AcquireFunc for the selected collection.
func (f *collectionFlags) acquire(st store.RecordStore, pageSize int) pipeline.AcquireFunc {
	if f.setID != "" {
		setID, limit := f.setID, f.limit
		return func(ctx context.Context) (*source.Collection, error) {
			return source.EnumerateSet(ctx, st, setID, pageSize, limit)
		}
	}
	path, opts := f.file, source.FileOptions{Column: f.column, Limit: f.limit}
	return func(context.Context) (*source.Collection, error) {
		return source.ReadFile(path, opts)
	}
}

// openAlmaStore builds the Alma client, wrapped with the document cache
// when it is enabled.
func openAlmaStore(cfg *config.Config) (store.RecordStore, error) {
	alma, err := store.NewAlma(store.AlmaConfig{
		BaseURL: cfg.API.BaseURL,
		Region:  cfg.API.Region,
		APIKey:  cfg.API.APIKey,
		Timeout: cfg.API.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set %s or api.api_key)", err, config.EnvAPIKey)
	}
	return withCache(alma, cfg)
}

// withCache wraps st with the file cache when the configuration enables it.
func withCache(st store.RecordStore, cfg *config.Config) (store.RecordStore, error) {
	if !cfg.Cache.Enabled {
		return st, nil
	}
	fc, err := openCache(cfg)
	if err != nil {
		return nil, err
	}
	return store.NewCached(st, fc), nil
}

func openCache(cfg *config.Config) (*cache.FileStore, error) {
	dir := cfg.Cache.Dir
	if env := cache.GetCacheDirFromEnv(); env != "" {
		dir = env
	}
	fc, err := cache.NewFileStore(dir, true, cache.GetTTLFromEnv(cfg.Cache.TTLSeconds))
	if err != nil {
		return nil, fmt.Errorf("opening record cache: %w", err)
	}
	return fc, nil
}

// runnerConfig maps the batch section onto the pipeline runner.
func runnerConfig(cfg *config.Config) pipeline.Config {
	delay := cfg.Batch.RetryDelay
	if delay == 0 {
		delay = -1
	}
	return pipeline.Config{
		BatchSize: cfg.Batch.Size,
		Fetch: batch.FetcherConfig{
			Attempts: cfg.Batch.RetryAttempts,
			Delay:    delay,
		},
		ProgressEvery:   cfg.Batch.ProgressEvery,
		ProgressTimeout: cfg.Batch.ProgressTimeout,
	}
}

// loadState reads the saved state; a broken state file only costs --last.
func loadState(ctx context.Context) *config.State {
	st, err := config.LoadDefaultState()
	if err != nil {
		logging.FromContext(ctx).Warn().Err(err).Msg("ignoring unreadable state file")
		return nil
	}
	return st
}

func saveState(ctx context.Context, st *config.State) {
	if st == nil {
		return
	}
	if err := st.Save(); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Str("path", st.Path()).Msg("could not save state")
	}
}

// plainProgressInterval bounds how often plain progress lines are printed.
const plainProgressInterval = 2 * time.Second

// execution runs one pipeline operation with progress display and
// cooperative cancellation.
type execution struct {
	cmd         *cobra.Command
	runner      *pipeline.Runner
	token       *pipeline.CancelToken
	interactive bool
}

func newExecution(cmd *cobra.Command, deps Deps, st store.RecordStore, cfg *config.Config) (*execution, error) {
	token := pipeline.NewCancelToken()
	runner, err := pipeline.NewRunner(st, runnerConfig(cfg))
	if err != nil {
		return nil, err
	}
	noTUI, _ := cmd.Flags().GetBool("no-tui")
	return &execution{
		cmd:         cmd,
		runner:      runner.WithCancelToken(token),
		token:       token,
		interactive: !noTUI && deps.Interactive(),
	}, nil
}

// run executes op. SIGINT sets the cancel token, so the run stops at the
// next record boundary and still reports its counters.
func (e *execution) run(ctx context.Context, acquire pipeline.AcquireFunc, op pipeline.Operation) (pipeline.Summary, error) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-sigCh:
			logging.FromContext(ctx).Warn().Msg("interrupt received, stopping after the current record")
			e.token.Cancel()
		case <-stop:
		}
	}()

	if e.interactive {
		return e.runInteractive(ctx, acquire, op)
	}
	return e.runPlain(ctx, acquire, op)
}

func (e *execution) runPlain(ctx context.Context, acquire pipeline.AcquireFunc, op pipeline.Operation) (pipeline.Summary, error) {
	var (
		mu   sync.Mutex
		last time.Time
	)
	w := e.cmd.ErrOrStderr()
	e.runner.WithProgress(func(s batch.ProgressSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		if time.Since(last) < plainProgressInterval && s.ProcessedItems < s.TotalItems {
			return
		}
		last = time.Now()
		_, _ = fmt.Fprintln(w, tui.RenderPlainProgress(op.Name(), s.ProcessedItems, s.TotalItems, s.FailedItems))
	})

	summary, err := e.runner.RunFrom(ctx, acquire, op)
	_, _ = fmt.Fprintln(e.cmd.OutOrStdout(), tui.RenderSummary(summary, 0))
	return summary, err
}

// runInteractive drives the Bubble Tea view and the pipeline side by side.
// The view exits when the run reports back.
func (e *execution) runInteractive(
	ctx context.Context,
	acquire pipeline.AcquireFunc,
	op pipeline.Operation,
) (pipeline.Summary, error) {
	program := tea.NewProgram(
		tui.NewProgressModel(op.Name(), e.token),
		tea.WithContext(ctx),
		tea.WithOutput(e.cmd.OutOrStdout()),
		tea.WithoutSignalHandler(),
	)
	e.runner.WithProgress(func(s batch.ProgressSnapshot) {
		program.Send(tui.ProgressMsg{Snapshot: s})
	})

	var (
		summary pipeline.Summary
		runErr  error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			e.token.Cancel()
			return fmt.Errorf("running progress view: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		summary, runErr = e.runner.RunFrom(gctx, acquire, op)
		program.Send(tui.DoneMsg{Summary: summary, Err: runErr})
		return nil
	})
	if err := g.Wait(); err != nil {
		return summary, err
	}
	return summary, runErr
}

// logSummary writes the run summary line.
func logSummary(ctx context.Context, s pipeline.Summary) {
	logging.FromContext(ctx).Info().
		Str("operation", s.Operation).
		Str("state", s.State.String()).
		Str("counters", s.Counters.String()).
		Dur("elapsed", s.Elapsed()).
		Msg("run summary")
}
