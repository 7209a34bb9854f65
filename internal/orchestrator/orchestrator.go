// Package orchestrator drives a harvest run: it walks the terms in order,
// discovers candidates for each, hands them to the download pool and folds
// the outcomes into a RunSummary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/imgharvest/internal/harvest"
	"github.com/JakeFAU/imgharvest/internal/metrics"
)

// Defaults applied by New.
const (
	DefaultRecordTimeout = 5 * time.Second
	maxDiscoveryRetries  = 1
)

// Downloader turns candidates into outcomes. *worker.Pool implements it.
type Downloader interface {
	Run(ctx context.Context, term string, candidates iter.Seq[harvest.Candidate]) <-chan harvest.Outcome
}

// Config tunes the orchestrator.
type Config struct {
	// DiscoveryRetries is clamped to [0, 1].
	DiscoveryRetries int
	RetryBackoff     time.Duration
	// RecordTimeout bounds each recorder call.
	RecordTimeout time.Duration
}

// Deps are the collaborators of an Orchestrator. Recorders and Metrics are
// optional.
type Deps struct {
	Discoverer harvest.Discoverer
	Sink       harvest.Sink
	Downloader Downloader
	IDs        harvest.IDGenerator
	Recorders  []harvest.Recorder
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Orchestrator runs terms sequentially.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates deps and applies defaults.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Discoverer == nil:
		return nil, errors.New("orchestrator: discoverer is required")
	case deps.Sink == nil:
		return nil, errors.New("orchestrator: sink is required")
	case deps.Downloader == nil:
		return nil, errors.New("orchestrator: downloader is required")
	case deps.IDs == nil:
		return nil, errors.New("orchestrator: id generator is required")
	}
	cfg.DiscoveryRetries = max(0, min(cfg.DiscoveryRetries, maxDiscoveryRetries))
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = DefaultRecordTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger}, nil
}

// Run processes every term and returns the aggregated summary. A failing term
// never prevents later terms from running. Once ctx is canceled no further
// term starts; those terms are reported as canceled.
func (o *Orchestrator) Run(ctx context.Context, terms []string) harvest.RunSummary {
	o.logger.Info("harvest starting", zap.Strings("terms", terms))

	var summary harvest.RunSummary
	for _, term := range terms {
		if ctx.Err() != nil {
			o.logger.Warn("term not started", zap.String("term", term), zap.Error(ctx.Err()))
			summary.Add(harvest.TermSummary{Term: term, Canceled: true, Err: ctx.Err()})
			continue
		}
		ts := o.runTerm(ctx, term)
		o.logTermSummary(ts)
		summary.Add(ts)
	}

	o.logger.Info("harvest finished",
		zap.Int("terms", len(summary.Terms)),
		zap.Int("discovered", summary.Total.Discovered),
		zap.Int("succeeded", summary.Total.Succeeded),
		zap.Int("skipped", summary.Total.Skipped),
		zap.Int("failed", summary.Total.Failed),
		zap.Int("exit_code", summary.ExitCode()))
	return summary
}

func (o *Orchestrator) runTerm(ctx context.Context, term string) harvest.TermSummary {
	ts := harvest.TermSummary{Term: term}
	logger := o.logger.With(zap.String("term", term))
	logger.Info("searching term")

	// A term that cannot name a directory fails before any discovery work.
	if err := harvest.ValidateName(term); err != nil {
		ts.DiscoveryFailed = true
		ts.Err = &harvest.StorageError{Kind: harvest.StorageMkdir, Term: term, Err: err}
		logger.Error("invalid term", zap.Error(err))
		return ts
	}

	seq, err := o.discover(ctx, term)
	if err != nil {
		ts.Err = err
		if ctx.Err() != nil {
			ts.Canceled = true
		} else {
			ts.DiscoveryFailed = true
		}
		logger.Error("discovery failed", zap.Error(err))
		return ts
	}

	if err := o.deps.Sink.EnsureDirectory(ctx, term); err != nil {
		ts.DiscoveryFailed = true
		ts.Err = err
		logger.Error("cannot create term directory", zap.Error(err))
		return ts
	}

	candidates := o.assignIDs(logger, seq)
	ts.Discovered = len(candidates)
	logger.Info("candidates found", zap.Int("count", ts.Discovered))

	i := 0
	for outcome := range o.deps.Downloader.Run(ctx, term, slices.Values(candidates)) {
		i++
		ts.Add(outcome)
		o.logOutcome(logger, outcome, i, ts.Discovered)
		o.record(ctx, logger, outcome)
	}

	if ctx.Err() != nil {
		ts.Canceled = true
		ts.Err = ctx.Err()
	}
	return ts
}

// discover calls the Discoverer, retrying a failed attempt at most
// DiscoveryRetries times.
func (o *Orchestrator) discover(ctx context.Context, term string) (iter.Seq[harvest.Candidate], error) {
	var lastErr error
	for attempt := 0; attempt <= o.cfg.DiscoveryRetries; attempt++ {
		if attempt > 0 {
			o.deps.Metrics.ObserveDiscovery("retry")
			o.logger.Warn("retrying discovery",
				zap.String("term", term),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))
			if err := sleep(ctx, o.cfg.RetryBackoff); err != nil {
				break
			}
		}
		seq, err := o.deps.Discoverer.Discover(ctx, term)
		if err == nil {
			o.deps.Metrics.ObserveDiscovery("ok")
			return seq, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	o.deps.Metrics.ObserveDiscovery("failed")

	var discErr *harvest.DiscoveryError
	if !errors.As(lastErr, &discErr) {
		lastErr = &harvest.DiscoveryError{Term: term, Err: lastErr}
	}
	return nil, lastErr
}

// assignIDs drains seq and makes every ProposedID unique within the term and
// usable as a file name, replacing offenders with generated IDs.
func (o *Orchestrator) assignIDs(logger *zap.Logger, seq iter.Seq[harvest.Candidate]) []harvest.Candidate {
	var out []harvest.Candidate
	seen := make(map[string]struct{})
	for c := range seq {
		if _, dup := seen[c.ProposedID]; dup || harvest.ValidateName(c.ProposedID) != nil {
			replacement := o.newID(len(out), seen)
			logger.Debug("replacing proposed id",
				zap.String("proposed", c.ProposedID),
				zap.String("id", replacement),
				zap.String("url", c.SourceURL))
			c.ProposedID = replacement
		}
		seen[c.ProposedID] = struct{}{}
		out = append(out, c)
	}
	return out
}

func (o *Orchestrator) newID(index int, seen map[string]struct{}) string {
	for range 3 {
		id, err := o.deps.IDs.NewID()
		if err != nil {
			o.logger.Warn("id generator failed", zap.Error(err))
			break
		}
		if _, dup := seen[id]; !dup && harvest.ValidateName(id) == nil {
			return id
		}
	}
	for n := 0; ; n++ {
		id := fmt.Sprintf("candidate-%06d", index)
		if n > 0 {
			id = fmt.Sprintf("%s-%d", id, n)
		}
		if _, dup := seen[id]; !dup {
			return id
		}
	}
}

func (o *Orchestrator) logOutcome(logger *zap.Logger, outcome harvest.Outcome, n, total int) {
	fields := []zap.Field{
		zap.Int("n", n),
		zap.Int("of", total),
		zap.String("id", outcome.ID),
		zap.String("outcome", string(outcome.Kind)),
	}
	switch outcome.Kind {
	case harvest.OutcomeSuccess:
		logger.Info("download", append(fields,
			zap.Int("bytes", outcome.Bytes),
			zap.String("location", outcome.Location),
			zap.Duration("duration", outcome.Duration))...)
	case harvest.OutcomeSkipped:
		logger.Info("download", append(fields,
			zap.String("url", outcome.URL),
			zap.String("reason", outcome.Reason))...)
	case harvest.OutcomeFailed:
		fields = append(fields, zap.String("url", outcome.URL))
		if outcome.Err != nil {
			fields = append(fields, zap.String("kind", string(outcome.Err.Kind)))
			if outcome.Err.StatusCode != 0 {
				fields = append(fields, zap.Int("status", outcome.Err.StatusCode))
			}
			fields = append(fields, zap.Error(outcome.Err))
		}
		logger.Warn("download failed", fields...)
	}
}

func (o *Orchestrator) logTermSummary(ts harvest.TermSummary) {
	fields := []zap.Field{
		zap.String("term", ts.Term),
		zap.Int("discovered", ts.Discovered),
		zap.Int("succeeded", ts.Succeeded),
		zap.Int("skipped", ts.Skipped),
		zap.Int("failed", ts.Failed),
		zap.Bool("discovery_failed", ts.DiscoveryFailed),
		zap.Bool("canceled", ts.Canceled),
	}
	if ts.Err != nil {
		fields = append(fields, zap.Error(ts.Err))
	}
	o.logger.Info("term complete", fields...)
}

// record fans the outcome out to every recorder. Recorders run even after
// cancellation so the ledger reflects skipped candidates.
func (o *Orchestrator) record(ctx context.Context, logger *zap.Logger, outcome harvest.Outcome) {
	if len(o.deps.Recorders) == 0 {
		return
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.RecordTimeout)
	defer cancel()
	for _, r := range o.deps.Recorders {
		if err := r.Record(recCtx, outcome); err != nil {
			logger.Warn("recording outcome failed", zap.String("id", outcome.ID), zap.Error(err))
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
