// Package coordinator orchestrates submissions: it parses raw tool
// output, resolves identity, appends to the store, and classifies
// every metric against its series.
package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/driftwatch/driftwatch/pkg/adapter"
	"github.com/driftwatch/driftwatch/pkg/config"
	"github.com/driftwatch/driftwatch/pkg/detect"
	"github.com/driftwatch/driftwatch/pkg/measurement"
	"github.com/driftwatch/driftwatch/pkg/store"
)

// IdentityError reports a submission whose identity context cannot be
// resolved: an unknown project, a missing field, or a measure reused
// with conflicting units.
type IdentityError struct {
	Subject string
	Name    string
	Reason  string
}

func (e *IdentityError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s: %s", e.Subject, e.Reason)
	}

	return fmt.Sprintf("%s %q: %s", e.Subject, e.Name, e.Reason)
}

// SubmitRequest is one benchmark run submission.
type SubmitRequest struct {
	Identity measurement.RunIdentity

	// Format selects the adapter; empty means the configured default.
	Format string

	// Raw is the unmodified benchmark tool output.
	Raw []byte
}

// MetricResult is the stored value and verdict for one metric of a
// submission.
type MetricResult struct {
	Benchmark string         `json:"benchmark"`
	Measure   string         `json:"measure"`
	Unit      string         `json:"unit,omitempty"`
	Value     float64        `json:"value"`
	Verdict   detect.Verdict `json:"verdict"`
}

// SubmitResult is the outcome of an accepted submission.
type SubmitResult struct {
	RunID    string         `json:"run_id"`
	ReportID uint           `json:"report_id"`
	Status   detect.Status  `json:"status"`
	Results  []MetricResult `json:"results"`
}

// HistoryRequest selects one series by name.
type HistoryRequest struct {
	ProjectSlug string
	Branch      string
	Testbed     string
	Benchmark   string
	Measure     string
	Limit       int
}

// Coordinator accepts submissions and serves series reads.
type Coordinator interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	History(
		ctx context.Context, req HistoryRequest,
	) ([]store.HistoryEntry, error)
}

// Compile-time interface check.
var _ Coordinator = (*coordinator)(nil)

type coordinator struct {
	log      logrus.FieldLogger
	store    store.Store
	adapters adapter.Set

	defaultFormat string
	defaultBranch string
	basePolicy    detect.Policy
}

// New creates a Coordinator over the given store and adapter set.
func New(
	log logrus.FieldLogger,
	cfg *config.Config,
	st store.Store,
	adapters adapter.Set,
) Coordinator {
	base := detect.DefaultPolicy()

	if cfg.Detection.Window > 0 {
		base.Window = cfg.Detection.Window
	}

	if cfg.Detection.MinSamples > 0 {
		base.MinSamples = cfg.Detection.MinSamples
	}

	if cfg.Detection.MaxPercentChange > 0 {
		base.MaxPercentChange = cfg.Detection.MaxPercentChange
	}

	if cfg.Detection.SigmaMultiplier > 0 {
		base.SigmaMultiplier = cfg.Detection.SigmaMultiplier
	}

	return &coordinator{
		log:           log.WithField("component", "coordinator"),
		store:         st,
		adapters:      adapters,
		defaultFormat: cfg.Global.DefaultFormat,
		defaultBranch: cfg.Global.DefaultBranch,
		basePolicy:    base,
	}
}

// resolvedMetric pairs a parsed measurement with its resolved store
// identities, detection policy, and prefetched history.
type resolvedMetric struct {
	m         measurement.Measurement
	benchmark *store.Benchmark
	measure   *store.Measure
	policy    detect.Policy
	history   []float64
}

// Submit runs the full submission pipeline. It either stores the whole
// report or none of it: parse and identity failures happen before the
// append transaction, and the transaction itself is atomic.
func (c *coordinator) Submit(
	ctx context.Context, req SubmitRequest,
) (*SubmitResult, error) {
	format := req.Format
	if format == "" {
		format = c.defaultFormat
	}

	a, ok := c.adapters.Get(format)
	if !ok {
		return nil, &adapter.FormatError{
			Format: format,
			Reason: "unknown format",
		}
	}

	measurements, err := a.Parse(req.Raw)
	if err != nil {
		return nil, err
	}

	if len(measurements) == 0 {
		return nil, &adapter.FormatError{
			Format: format,
			Reason: "no measurements found in input",
		}
	}

	identity := req.Identity
	if identity.Branch == "" {
		identity.Branch = c.defaultBranch
	}

	if identity.Testbed == "" {
		return nil, &IdentityError{
			Subject: "testbed",
			Reason:  "testbed is required",
		}
	}

	if identity.RunID == "" {
		identity.RunID = uuid.NewString()
	}

	project, err := c.store.GetProjectBySlug(ctx, identity.ProjectSlug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &IdentityError{
				Subject: "project",
				Name:    identity.ProjectSlug,
				Reason:  "unknown project",
			}
		}

		return nil, err
	}

	branch, err := c.store.GetOrCreateBranch(
		ctx, project.ID, identity.Branch,
	)
	if err != nil {
		return nil, err
	}

	testbed, err := c.store.GetOrCreateTestbed(
		ctx, project.ID, identity.Testbed,
	)
	if err != nil {
		return nil, err
	}

	resolved, err := c.resolveMetrics(ctx, project.ID, measurements)
	if err != nil {
		return nil, err
	}

	// Policies are resolved up front: the prefetch is bounded by each
	// series' window, so it must know the policy before it reads.
	for i := range resolved {
		resolved[i].policy, err = c.policyFor(
			ctx, project.ID, branch.ID, testbed.ID, resolved[i].measure,
		)
		if err != nil {
			return nil, err
		}
	}

	// Histories are read before the append so the baseline never
	// includes the value under test.
	if err := c.prefetchHistories(
		ctx, project.ID, branch.ID, testbed.ID, resolved,
	); err != nil {
		return nil, err
	}

	report := &store.Report{
		RunID:     identity.RunID,
		ProjectID: project.ID,
		BranchID:  branch.ID,
		TestbedID: testbed.ID,
		GitHash:   identity.GitHash,
		PRNumber:  identity.PRNumber,
	}

	metrics := make([]store.Metric, len(resolved))
	for i, r := range resolved {
		metrics[i] = store.Metric{
			BenchmarkID: r.benchmark.ID,
			MeasureID:   r.measure.ID,
			Value:       r.m.Value,
			LowerValue:  r.m.LowerValue,
			UpperValue:  r.m.UpperValue,
			Stddev:      r.m.Stddev,
			Samples:     r.m.Samples,
		}
	}

	if err := c.store.AppendReport(ctx, report, metrics); err != nil {
		var ce *store.ConflictError
		if errors.As(err, &ce) {
			ce.ProjectSlug = identity.ProjectSlug
		}

		return nil, err
	}

	result := &SubmitResult{
		RunID:    identity.RunID,
		ReportID: report.ID,
		Status:   detect.StatusPass,
		Results:  make([]MetricResult, 0, len(resolved)),
	}

	var alerts []store.Alert

	for i, r := range resolved {
		verdict := detect.Evaluate(r.m.Value, r.history, r.policy)

		result.Results = append(result.Results, MetricResult{
			Benchmark: r.m.Benchmark,
			Measure:   r.m.Measure,
			Unit:      r.measure.Units,
			Value:     r.m.Value,
			Verdict:   verdict,
		})

		switch verdict.Status {
		case detect.StatusRegression:
			result.Status = detect.StatusRegression
		case detect.StatusImprovement:
			if result.Status != detect.StatusRegression {
				result.Status = detect.StatusImprovement
			}
		}

		if verdict.Status == detect.StatusRegression ||
			verdict.Status == detect.StatusImprovement {
			alerts = append(alerts, store.Alert{
				ProjectID:     project.ID,
				ReportID:      report.ID,
				MetricID:      metrics[i].ID,
				BenchmarkID:   r.benchmark.ID,
				MeasureID:     r.measure.ID,
				Status:        string(verdict.Status),
				BaselineValue: verdict.BaselineMean,
				CurrentValue:  r.m.Value,
				PercentChange: verdict.PercentChange,
			})
		}
	}

	// The report is already durable; failing to persist alerts must
	// not turn an accepted submission into an error.
	if err := c.store.CreateAlerts(ctx, alerts); err != nil {
		c.log.WithError(err).
			WithField("run_id", identity.RunID).
			Warn("Failed to persist alerts")
	}

	c.log.WithFields(logrus.Fields{
		"project": identity.ProjectSlug,
		"branch":  identity.Branch,
		"testbed": identity.Testbed,
		"run_id":  identity.RunID,
		"metrics": len(metrics),
		"status":  result.Status,
	}).Info("Accepted benchmark report")

	return result, nil
}

// resolveMetrics maps parsed measurements onto store benchmarks and
// measures. A measure's unit is fixed on first use; a later submission
// with a different unit is an identity conflict, not a silent rewrite.
func (c *coordinator) resolveMetrics(
	ctx context.Context,
	projectID uint,
	measurements []measurement.Measurement,
) ([]resolvedMetric, error) {
	resolved := make([]resolvedMetric, 0, len(measurements))

	for _, m := range measurements {
		benchmark, err := c.store.GetOrCreateBenchmark(
			ctx, projectID, m.Benchmark,
		)
		if err != nil {
			return nil, err
		}

		measure, err := c.store.GetOrCreateMeasure(
			ctx, projectID, m.Measure, m.Unit, string(m.Direction),
		)
		if err != nil {
			return nil, err
		}

		if measure.Units != "" && m.Unit != "" &&
			measure.Units != m.Unit {
			return nil, &IdentityError{
				Subject: "measure",
				Name:    m.Measure,
				Reason: fmt.Sprintf(
					"unit %q conflicts with established unit %q",
					m.Unit, measure.Units,
				),
			}
		}

		resolved = append(resolved, resolvedMetric{
			m:         m,
			benchmark: benchmark,
			measure:   measure,
		})
	}

	return resolved, nil
}

// prefetchHistories loads every metric's series concurrently, capped
// to the metric's policy window. The detector never looks past the
// window, so neither does the read.
func (c *coordinator) prefetchHistories(
	ctx context.Context,
	projectID, branchID, testbedID uint,
	resolved []resolvedMetric,
) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for i := range resolved {
		g.Go(func() error {
			limit := resolved[i].policy.Window
			if limit <= 0 {
				limit = detect.DefaultPolicy().Window
			}

			entries, err := c.store.History(gctx, store.HistoryQuery{
				ProjectID:   projectID,
				BranchID:    branchID,
				TestbedID:   testbedID,
				BenchmarkID: resolved[i].benchmark.ID,
				MeasureID:   resolved[i].measure.ID,
				Limit:       limit,
			})
			if err != nil {
				return err
			}

			history := make([]float64, len(entries))
			for j, e := range entries {
				history[j] = e.Value
			}

			resolved[i].history = history

			return nil
		})
	}

	return g.Wait()
}

// policyFor builds the detection policy for one series: config-wide
// defaults, a stored threshold override when one matches, and the
// measure's declared direction.
func (c *coordinator) policyFor(
	ctx context.Context,
	projectID, branchID, testbedID uint,
	measure *store.Measure,
) (detect.Policy, error) {
	policy := c.basePolicy

	direction, err := measurement.ParseDirection(measure.Direction)
	if err != nil {
		return policy, fmt.Errorf(
			"measure %q: %w", measure.Name, err,
		)
	}

	policy.Direction = direction

	threshold, err := c.store.FindThreshold(
		ctx, projectID, branchID, testbedID, measure.ID,
	)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return policy, nil
		}

		return policy, err
	}

	if threshold.Window != nil {
		policy.Window = *threshold.Window
	}

	if threshold.MinSamples != nil {
		policy.MinSamples = *threshold.MinSamples
	}

	if threshold.MaxPercentChange != nil {
		policy.MaxPercentChange = *threshold.MaxPercentChange
	}

	if threshold.SigmaMultiplier != nil {
		policy.SigmaMultiplier = *threshold.SigmaMultiplier
	}

	return policy, nil
}

// History resolves the named series and returns it oldest-first. An
// unknown project is an IdentityError; an unknown branch, testbed,
// benchmark, or measure is an empty series.
func (c *coordinator) History(
	ctx context.Context, req HistoryRequest,
) ([]store.HistoryEntry, error) {
	project, err := c.store.GetProjectBySlug(ctx, req.ProjectSlug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &IdentityError{
				Subject: "project",
				Name:    req.ProjectSlug,
				Reason:  "unknown project",
			}
		}

		return nil, err
	}

	branchName := req.Branch
	if branchName == "" {
		branchName = c.defaultBranch
	}

	branch, err := c.store.GetBranchByName(ctx, project.ID, branchName)
	if err != nil {
		return emptyIfNotFound(err)
	}

	testbed, err := c.store.GetTestbedByName(ctx, project.ID, req.Testbed)
	if err != nil {
		return emptyIfNotFound(err)
	}

	benchmark, err := c.store.GetBenchmarkByName(
		ctx, project.ID, req.Benchmark,
	)
	if err != nil {
		return emptyIfNotFound(err)
	}

	measure, err := c.store.GetMeasureByName(ctx, project.ID, req.Measure)
	if err != nil {
		return emptyIfNotFound(err)
	}

	return c.store.History(ctx, store.HistoryQuery{
		ProjectID:   project.ID,
		BranchID:    branch.ID,
		TestbedID:   testbed.ID,
		BenchmarkID: benchmark.ID,
		MeasureID:   measure.ID,
		Limit:       req.Limit,
	})
}

func emptyIfNotFound(err error) ([]store.HistoryEntry, error) {
	if errors.Is(err, store.ErrNotFound) {
		return []store.HistoryEntry{}, nil
	}

	return nil, err
}
