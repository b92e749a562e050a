package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/statemade/diffreview/internal/config"
	"github.com/statemade/diffreview/internal/gitctx"
	"github.com/statemade/diffreview/internal/github"
	"github.com/statemade/diffreview/internal/ledger"
	"github.com/statemade/diffreview/internal/metrics"
	"github.com/statemade/diffreview/internal/output"
	"github.com/statemade/diffreview/internal/providers"
	"github.com/statemade/diffreview/internal/review"
	"github.com/statemade/diffreview/internal/tokenizer"
	"github.com/statemade/diffreview/internal/tracing"
)

// Review flags that are not config keys.
var (
	flagPR               string
	flagRepo             string
	flagRange            string
	flagMergeBase        bool
	flagDiffFile         string
	flagExclude          string
	flagDryRun           bool
	flagForce            bool
	flagOut              string
	flagFailOnIncomplete bool
	flagNoPrime          bool
	flagNoRedact         bool
	flagNoLedger         bool
)

// reviewBindings maps config keys to the review flags that override them.
var reviewBindings = map[string]string{
	"provider":               "provider",
	"model":                  "model",
	"endpoint":               "endpoint",
	"retries":                "retries",
	"format":                 "format",
	"dispatch.limit":         "limit",
	"dispatch.delay":         "delay",
	"dispatch.max_tokens":    "max-tokens",
	"dispatch.timeout":       "timeout",
	"dispatch.ordered":       "ordered",
	"review.chunk_size":      "chunk-size",
	"review.max_input_chars": "max-input-chars",
	"review.context_lines":   "context-lines",
}

// stdinIsPipe reports whether a diff is being piped in.
var stdinIsPipe = func() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice == 0
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review a diff and post the result as a pull request comment",
	Long: `Review a diff and post the result as a pull request comment.

The diff is taken from the first available source:
  --diff-file, piped stdin, --range (local git), or the pull request itself (--pr).

The repository comes from --repo or GITHUB_REPOSITORY, falling back to the
origin remote. The pull request number comes from --pr or GITHUB_PR_NUMBER.`,
	Args: cobra.NoArgs,
	RunE: runReview,
}

func init() {
	f := reviewCmd.Flags()
	def := config.Default()

	f.StringVar(&flagPR, "pr", "", "Pull request number (default: $GITHUB_PR_NUMBER)")
	f.StringVar(&flagRepo, "repo", "", "Repository as owner/repo (default: $GITHUB_REPOSITORY or git remote)")
	f.StringVar(&flagRange, "range", "", "Review a local revision range (e.g., origin/main..HEAD)")
	f.BoolVar(&flagMergeBase, "merge-base", true, "Use merge base for --range comparisons")
	f.StringVar(&flagDiffFile, "diff-file", "", "Read the diff from a file")
	f.StringVar(&flagExclude, "exclude", "", "Exclude file path globs from --range diffs (comma-separated)")
	f.BoolVar(&flagDryRun, "dry-run", false, "Run the review but don't post to GitHub")
	f.BoolVar(&flagForce, "force", false, "Post even if this diff was already reviewed")
	f.StringVar(&flagOut, "out", "", "Output file path (default: stdout)")
	f.BoolVar(&flagFailOnIncomplete, "fail-on-incomplete", false, "Exit 1 when any chunk failed or was not submitted")
	f.BoolVar(&flagNoPrime, "no-prime", false, "Skip the priming call")
	f.BoolVar(&flagNoRedact, "no-redact", false, "Disable secret redaction (use with caution)")
	f.BoolVar(&flagNoLedger, "no-ledger", false, "Don't consult or update the duplicate-post ledger")

	f.String("provider", def.Provider, "LLM provider ("+strings.Join(providers.Names(), ", ")+")")
	f.String("model", def.Model, "Model name, or deployment id for azure")
	f.String("endpoint", def.Endpoint, "Provider endpoint URL")
	f.Int("retries", def.Retries, "Retries for rate-limited or failed stream requests")
	f.String("format", def.Format, "Output format ("+strings.Join(output.Formats, ", ")+")")
	f.Int("limit", def.Dispatch.Limit, "Maximum chunks in flight")
	f.Duration("delay", def.Dispatch.Delay, "Pause after each chunk submission")
	f.Int("max-tokens", def.Dispatch.MaxTokens, "Maximum tokens per completion")
	f.Duration("timeout", def.Dispatch.Timeout, "Per-chunk stream timeout (0 disables)")
	f.Bool("ordered", def.Dispatch.Ordered, "Aggregate chunk text in input order instead of arrival order")
	f.Int("chunk-size", def.Review.ChunkSize, "Characters per chunk")
	f.Int("max-input-chars", def.Review.MaxInputChars, "Largest diff to review (0 disables the limit)")
	f.Int("context-lines", def.Review.ContextLines, "Context lines for --range diffs")
}

// target identifies the pull request to comment on.
type target struct {
	owner  string
	repo   string
	number int
}

func (t target) String() string {
	return fmt.Sprintf("%s/%s#%d", t.owner, t.repo, t.number)
}

func runReview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, reviewBindings)
	if err != nil {
		return exitWith(cmd, ExitUsageError, err)
	}
	if flagNoPrime {
		cfg.Review.Prime = false
	}
	if flagNoRedact {
		cfg.Review.Redact = false
		fmt.Fprintln(cmd.ErrOrStderr(), "WARNING: secret redaction is disabled")
	}
	if flagNoLedger {
		cfg.Ledger.Enabled = false
	}

	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return exitWith(cmd, ExitUsageError, err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	if flagTrace {
		shutdown, err := tracing.Init("diffreview", version, cmd.ErrOrStderr())
		if err != nil {
			return exitWith(cmd, ExitRuntimeError, err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn("flushing traces failed", zap.Error(err))
			}
		}()
	}

	m := metrics.NewCollector("diffreview", logger)
	if flagMetricsFile != "" {
		defer func() {
			if err := m.WriteTextfile(flagMetricsFile); err != nil {
				logger.Warn("writing metrics file failed", zap.Error(err))
			}
		}()
	}

	needTarget := !flagDryRun || (flagDiffFile == "" && !stdinIsPipe() && flagRange == "")
	var tgt target
	if needTarget {
		tgt, err = resolveTarget(ctx)
		if err != nil {
			return exitWith(cmd, ExitUsageError, err)
		}
	}

	var gh *github.Client
	if needTarget {
		gh, err = github.NewClient(
			github.WithRateLimit(cfg.GitHub.RPS, cfg.GitHub.Burst),
			github.WithMetrics(m),
			github.WithLogger(logger),
		)
		if err != nil {
			return exitWith(cmd, ExitAuthError, err)
		}
	}

	in, err := readInput(ctx, cmd, cfg, gh, tgt, logger)
	if err != nil {
		return exitWith(cmd, codeFor(err), err)
	}

	var (
		store ledger.Store = ledger.Disabled{}
		key   string
	)
	if !flagDryRun {
		store = openLedger(cfg.Ledger, logger)
		defer store.Close()
		key = ledger.Key(tgt.owner+"/"+tgt.repo, tgt.number, in.Diff)
		if !flagForce {
			seen, err := store.Seen(ctx, key)
			switch {
			case err != nil:
				logger.Warn("ledger lookup failed", zap.Error(err))
			case seen:
				m.LedgerLookup(true)
				logger.Info("diff already reviewed, not posting again", zap.Stringer("pr", tgt))
				fmt.Fprintf(cmd.ErrOrStderr(), "%s already has a review for this diff (use --force to post again).\n", tgt)
				return nil
			default:
				m.LedgerLookup(false)
			}
		}
	}

	streamer, err := providers.New(providers.Config{
		Provider:   cfg.Provider,
		Model:      cfg.Model,
		Endpoint:   cfg.Endpoint,
		APIVersion: cfg.APIVersion,
		Retries:    cfg.Retries,
	})
	if err != nil {
		return exitWith(cmd, ExitAuthError, err)
	}

	engine := review.NewEngine(streamer, review.Options{
		ChunkSize:     cfg.Review.ChunkSize,
		MaxInputChars: cfg.Review.MaxInputChars,
		Limit:         cfg.Dispatch.Limit,
		Delay:         cfg.Dispatch.Delay,
		MaxTokens:     cfg.Dispatch.MaxTokens,
		Timeout:       cfg.Dispatch.Timeout,
		Ordered:       cfg.Dispatch.Ordered,
		Prime:         cfg.Review.Prime,
		PrimeDelay:    cfg.Review.PrimeDelay,
		Redact:        cfg.Review.Redact,
		RedactPaths:   cfg.Review.RedactPaths,
	},
		review.WithLogger(logger),
		review.WithMetrics(m),
		review.WithTokenizer(newCounter(cfg)),
		review.WithVersion(version),
	)

	report, runErr := engine.Run(ctx, in)
	if report == nil {
		return exitWith(cmd, codeFor(runErr), runErr)
	}

	if runErr == nil && !flagDryRun && report.HasComment() {
		comment, err := gh.PostComment(ctx, tgt.owner, tgt.repo, tgt.number, report.Comment)
		if err != nil {
			_ = output.WriteReport(report, cfg.Format, flagOut, cmd.OutOrStdout())
			return exitWith(cmd, codeFor(err), fmt.Errorf("posting comment: %w", err))
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Review posted to %s: %s\n", tgt, comment.HTMLURL)
		// A partial review stays unrecorded so a rerun can post the full one.
		if !report.Complete() {
			logger.Warn("review incomplete, not recording it in the ledger",
				zap.Int("failed", report.Summary.Failed))
		} else if err := store.Record(ctx, key, ledger.Entry{
			Repo:      tgt.owner + "/" + tgt.repo,
			Number:    tgt.number,
			RunID:     report.RunID,
			CommentID: comment.ID,
			URL:       comment.HTMLURL,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			logger.Warn("recording ledger entry failed", zap.Error(err))
		}
	} else if flagDryRun {
		fmt.Fprintf(cmd.ErrOrStderr(), "Dry run: %d chunks reviewed, not posting to GitHub.\n", report.Summary.Submitted)
	}

	if err := output.WriteReport(report, cfg.Format, flagOut, cmd.OutOrStdout()); err != nil {
		return exitWith(cmd, ExitRuntimeError, fmt.Errorf("writing output: %w", err))
	}

	if runErr != nil {
		return exitWith(cmd, codeFor(runErr), runErr)
	}
	if flagFailOnIncomplete && !report.Complete() {
		exitCode = ExitIncomplete
	}
	return nil
}

// resolveTarget finds the repository and pull request number from flags,
// the GitHub Actions environment, or the origin remote.
func resolveTarget(ctx context.Context) (target, error) {
	var t target

	number := flagPR
	if number == "" {
		number = os.Getenv("GITHUB_PR_NUMBER")
	}
	if number == "" {
		return t, errors.New("pull request number is required: pass --pr or set GITHUB_PR_NUMBER (or use --dry-run)")
	}
	n, err := strconv.Atoi(strings.TrimPrefix(number, "#"))
	if err != nil || n <= 0 {
		return t, fmt.Errorf("invalid pull request number %q", number)
	}
	t.number = n

	repo := flagRepo
	if repo == "" {
		repo = os.Getenv("GITHUB_REPOSITORY")
	}
	if repo != "" {
		t.owner, t.repo, err = github.ParseRepository(repo)
		return t, err
	}
	t.owner, t.repo, err = github.DetectRepo(ctx)
	if err != nil {
		return t, fmt.Errorf("%w\nUse --repo or GITHUB_REPOSITORY to specify the repository", err)
	}
	return t, nil
}

// readInput acquires the diff from the first available source.
func readInput(ctx context.Context, cmd *cobra.Command, cfg *config.Config, gh *github.Client, tgt target, logger *zap.Logger) (review.Input, error) {
	switch {
	case flagDiffFile != "":
		data, err := os.ReadFile(flagDiffFile)
		if err != nil {
			return review.Input{}, fmt.Errorf("reading diff file: %w", err)
		}
		return review.Input{Source: "file", Range: flagDiffFile, Diff: string(data)}, nil

	case stdinIsPipe():
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return review.Input{}, fmt.Errorf("reading stdin: %w", err)
		}
		return review.Input{Source: "stdin", Diff: string(data)}, nil

	case flagRange != "":
		return rangeInput(ctx, cfg, logger)

	default:
		return pullRequestInput(ctx, gh, tgt, logger)
	}
}

func rangeInput(ctx context.Context, cfg *config.Config, logger *zap.Logger) (review.Input, error) {
	opts := gitctx.DiffOptions{
		ContextLines: cfg.Review.ContextLines,
		Exclude:      append(append([]string{}, cfg.Review.Exclude...), splitComma(flagExclude)...),
	}

	var (
		res  gitctx.DiffResult
		meta gitctx.RepoMeta
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		res, err = gitctx.Range(gctx, flagRange, flagMergeBase, opts)
		return err
	})
	g.Go(func() error {
		var err error
		if meta, err = gitctx.GetRepoMeta(gctx, opts.Dir); err != nil {
			logger.Debug("repository metadata unavailable", zap.Error(err))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return review.Input{}, err
	}

	logger.Info("local diff collected",
		zap.String("range", res.Range),
		zap.String("branch", meta.Branch),
		zap.String("head", meta.Head),
		zap.Int("files", len(res.Files)),
	)
	return review.Input{Source: "range", Range: res.Range, Diff: res.Diff}, nil
}

func pullRequestInput(ctx context.Context, gh *github.Client, tgt target, logger *zap.Logger) (review.Input, error) {
	var (
		diff  string
		files []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		diff, err = gh.GetPRDiff(gctx, tgt.owner, tgt.repo, tgt.number)
		return err
	})
	g.Go(func() error {
		var err error
		if files, err = gh.GetPRFiles(gctx, tgt.owner, tgt.repo, tgt.number); err != nil {
			logger.Warn("could not fetch file list", zap.Error(err))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return review.Input{}, err
	}

	logger.Info("pull request diff fetched", zap.Stringer("pr", tgt), zap.Strings("files", files))
	return review.Input{Source: "github", Range: fmt.Sprintf("#%d", tgt.number), Diff: diff}, nil
}

// openLedger opens the configured store, degrading to a disabled ledger on
// error so a broken ledger never blocks a review.
func openLedger(cfg config.LedgerConfig, logger *zap.Logger) ledger.Store {
	store, err := ledger.Open(ledgerConfig(cfg), logger)
	if err != nil {
		logger.Warn("ledger unavailable, duplicate posts will not be detected", zap.Error(err))
		return ledger.Disabled{}
	}
	return store
}

func ledgerConfig(cfg config.LedgerConfig) ledger.Config {
	return ledger.Config{
		Enabled:       cfg.Enabled,
		Backend:       cfg.Backend,
		Dir:           cfg.Dir,
		TTL:           cfg.TTL,
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		RedisPrefix:   cfg.Redis.Prefix,
	}
}

// newCounter returns the token counter used for per-chunk estimates.
func newCounter(cfg *config.Config) tokenizer.Counter {
	if cfg.Review.Tokenizer == "estimate" {
		return tokenizer.Estimator{}
	}
	return tokenizer.NewTiktoken(cfg.Model)
}

func splitComma(s string) []string {
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
