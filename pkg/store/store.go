// Package store persists projects, measurement series, and detection
// artifacts behind a driver-agnostic interface.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/driftwatch/driftwatch/pkg/config"
)

// HistoryQuery selects one measurement series. A series is scoped by
// project, branch, testbed, benchmark, and measure together; the same
// benchmark on a different branch or testbed is a different series.
type HistoryQuery struct {
	ProjectID   uint
	BranchID    uint
	TestbedID   uint
	BenchmarkID uint
	MeasureID   uint

	// Limit caps the result to the most recent N entries. Zero means
	// no limit.
	Limit int
}

// HistoryEntry is one stored point of a measurement series.
type HistoryEntry struct {
	MetricID   uint      `json:"metric_id"`
	ReportID   uint      `json:"report_id"`
	RunID      string    `json:"run_id"`
	GitHash    string    `json:"git_hash,omitempty"`
	Value      float64   `json:"value"`
	LowerValue *float64  `json:"lower_value,omitempty"`
	UpperValue *float64  `json:"upper_value,omitempty"`
	Stddev     *float64  `json:"stddev,omitempty"`
	Samples    int       `json:"samples"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store provides persistence for projects, reports, and alerts.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Project CRUD.
	CreateProject(ctx context.Context, project *Project) error
	GetProjectBySlug(ctx context.Context, slug string) (*Project, error)
	ListProjects(ctx context.Context) ([]Project, error)

	// Dimension lookups for read paths. These never create rows.
	GetBranchByName(
		ctx context.Context, projectID uint, name string,
	) (*Branch, error)
	GetTestbedByName(
		ctx context.Context, projectID uint, name string,
	) (*Testbed, error)
	GetBenchmarkByName(
		ctx context.Context, projectID uint, name string,
	) (*Benchmark, error)
	GetMeasureByName(
		ctx context.Context, projectID uint, name string,
	) (*Measure, error)

	// Dimension get-or-create. Branches, testbeds, benchmarks, and
	// measures come into existence on first reference.
	GetOrCreateBranch(
		ctx context.Context, projectID uint, name string,
	) (*Branch, error)
	GetOrCreateTestbed(
		ctx context.Context, projectID uint, name string,
	) (*Testbed, error)
	GetOrCreateBenchmark(
		ctx context.Context, projectID uint, name string,
	) (*Benchmark, error)
	GetOrCreateMeasure(
		ctx context.Context, projectID uint, name, units, direction string,
	) (*Measure, error)

	// Report append and lookup.
	AppendReport(
		ctx context.Context, report *Report, metrics []Metric,
	) error
	GetReportByRunID(
		ctx context.Context, projectID uint, runID string,
	) (*Report, error)

	// History returns one series ordered oldest-first.
	History(ctx context.Context, q HistoryQuery) ([]HistoryEntry, error)

	// Thresholds.
	CreateThreshold(ctx context.Context, t *Threshold) error
	FindThreshold(
		ctx context.Context,
		projectID uint, branchID, testbedID, measureID uint,
	) (*Threshold, error)

	// Alerts.
	CreateAlerts(ctx context.Context, alerts []Alert) error
	ListAlerts(
		ctx context.Context, projectID uint, limit int,
	) ([]Alert, error)

	// Artifacts.
	CreateArtifact(ctx context.Context, a *Artifact) error
	ListArtifacts(ctx context.Context, reportID uint) ([]Artifact, error)

	// Token seeding and verification.
	SeedTokens(ctx context.Context, tokens []config.AuthToken) error
	VerifyToken(ctx context.Context, token string) (*Token, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var (
		dialector gorm.Dialector
		err       error
	)

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
		// Unique-index violations surface as gorm.ErrDuplicatedKey on
		// both drivers, which AppendReport maps to ConflictError.
		TranslateError: true,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	s.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if s.cfg.Driver == "sqlite" {
		// sqlite serializes writers anyway; a single connection turns
		// "database is locked" failures into queueing.
		sqlDB, dbErr := s.db.DB()
		if dbErr != nil {
			return fmt.Errorf("getting underlying db: %w", dbErr)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Project{},
		&Branch{},
		&Testbed{},
		&Benchmark{},
		&Measure{},
		&Report{},
		&Metric{},
		&Threshold{},
		&Alert{},
		&Token{},
		&Artifact{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// --- Project CRUD ---

func (s *store) CreateProject(
	ctx context.Context, project *Project,
) error {
	if err := s.db.WithContext(ctx).Create(project).Error; err != nil {
		return &StoreError{Op: "creating project", Err: err}
	}

	return nil
}

func (s *store) GetProjectBySlug(
	ctx context.Context, slug string,
) (*Project, error) {
	var project Project
	if err := s.db.WithContext(ctx).
		Where("slug = ?", slug).
		First(&project).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("project %q: %w", slug, ErrNotFound)
		}

		return nil, &StoreError{Op: "getting project by slug", Err: err}
	}

	return &project, nil
}

func (s *store) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&projects).Error; err != nil {
		return nil, &StoreError{Op: "listing projects", Err: err}
	}

	return projects, nil
}

// --- Dimension lookups ---

func (s *store) GetBranchByName(
	ctx context.Context, projectID uint, name string,
) (*Branch, error) {
	var branch Branch
	if err := s.db.WithContext(ctx).
		Where("project_id = ? AND name = ?", projectID, name).
		First(&branch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("branch %q: %w", name, ErrNotFound)
		}

		return nil, &StoreError{Op: "getting branch by name", Err: err}
	}

	return &branch, nil
}

func (s *store) GetTestbedByName(
	ctx context.Context, projectID uint, name string,
) (*Testbed, error) {
	var testbed Testbed
	if err := s.db.WithContext(ctx).
		Where("project_id = ? AND name = ?", projectID, name).
		First(&testbed).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("testbed %q: %w", name, ErrNotFound)
		}

		return nil, &StoreError{Op: "getting testbed by name", Err: err}
	}

	return &testbed, nil
}

func (s *store) GetBenchmarkByName(
	ctx context.Context, projectID uint, name string,
) (*Benchmark, error) {
	var benchmark Benchmark
	if err := s.db.WithContext(ctx).
		Where("project_id = ? AND name = ?", projectID, name).
		First(&benchmark).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("benchmark %q: %w", name, ErrNotFound)
		}

		return nil, &StoreError{Op: "getting benchmark by name", Err: err}
	}

	return &benchmark, nil
}

func (s *store) GetMeasureByName(
	ctx context.Context, projectID uint, name string,
) (*Measure, error) {
	var measure Measure
	if err := s.db.WithContext(ctx).
		Where("project_id = ? AND name = ?", projectID, name).
		First(&measure).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("measure %q: %w", name, ErrNotFound)
		}

		return nil, &StoreError{Op: "getting measure by name", Err: err}
	}

	return &measure, nil
}

// --- Dimension get-or-create ---

func (s *store) GetOrCreateBranch(
	ctx context.Context, projectID uint, name string,
) (*Branch, error) {
	branch := Branch{ProjectID: projectID, Name: name}
	if err := s.db.WithContext(ctx).
		Where("project_id = ? AND name = ?", projectID, name).
		FirstOrCreate(&branch).Error; err != nil {
		return nil, &StoreError{
			Op:  fmt.Sprintf("get-or-create branch %q", name),
			Err: err,
		}
	}

	return &branch, nil
}

func (s *store) GetOrCreateTestbed(
	ctx context.Context, projectID uint, name string,
) (*Testbed, error) {
	testbed := Testbed{ProjectID: projectID, Name: name}
	if err := s.db.WithContext(ctx).
		Where("project_id = ? AND name = ?", projectID, name).
		FirstOrCreate(&testbed).Error; err != nil {
		return nil, &StoreError{
			Op:  fmt.Sprintf("get-or-create testbed %q", name),
			Err: err,
		}
	}

	return &testbed, nil
}

func (s *store) GetOrCreateBenchmark(
	ctx context.Context, projectID uint, name string,
) (*Benchmark, error) {
	benchmark := Benchmark{ProjectID: projectID, Name: name}
	if err := s.db.WithContext(ctx).
		Where("project_id = ? AND name = ?", projectID, name).
		FirstOrCreate(&benchmark).Error; err != nil {
		return nil, &StoreError{
			Op:  fmt.Sprintf("get-or-create benchmark %q", name),
			Err: err,
		}
	}

	return &benchmark, nil
}

// GetOrCreateMeasure creates the measure with the given units and
// direction on first reference. An existing measure is returned as-is;
// the caller decides whether its recorded units are compatible.
func (s *store) GetOrCreateMeasure(
	ctx context.Context, projectID uint, name, units, direction string,
) (*Measure, error) {
	measure := Measure{
		ProjectID: projectID,
		Name:      name,
		Units:     units,
		Direction: direction,
	}
	if err := s.db.WithContext(ctx).
		Where("project_id = ? AND name = ?", projectID, name).
		FirstOrCreate(&measure).Error; err != nil {
		return nil, &StoreError{
			Op:  fmt.Sprintf("get-or-create measure %q", name),
			Err: err,
		}
	}

	return &measure, nil
}

// --- Reports ---

// AppendReport stores the report and its metrics in one transaction.
// Metric ids are assigned inside the transaction, which gives every
// series a total insertion order even under concurrent submissions. A
// reused run id fails the whole transaction with a ConflictError.
func (s *store) AppendReport(
	ctx context.Context, report *Report, metrics []Metric,
) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Report

		result := tx.
			Where("project_id = ? AND run_id = ?",
				report.ProjectID, report.RunID).
			First(&existing)

		if result.Error == nil {
			return &ConflictError{RunID: report.RunID}
		}

		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return fmt.Errorf("checking run id: %w", result.Error)
		}

		if err := tx.Create(report).Error; err != nil {
			// A concurrent submission can slip past the read check and
			// lose to the unique index on (project_id, run_id).
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return &ConflictError{RunID: report.RunID}
			}

			return fmt.Errorf("creating report: %w", err)
		}

		for i := range metrics {
			metrics[i].ReportID = report.ID
		}

		if len(metrics) > 0 {
			if err := tx.Create(&metrics).Error; err != nil {
				return fmt.Errorf("creating metrics: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		if IsConflict(err) {
			return err
		}

		return &StoreError{
			Op:  fmt.Sprintf("appending report %q", report.RunID),
			Err: err,
		}
	}

	return nil
}

func (s *store) GetReportByRunID(
	ctx context.Context, projectID uint, runID string,
) (*Report, error) {
	var report Report
	if err := s.db.WithContext(ctx).
		Where("project_id = ? AND run_id = ?", projectID, runID).
		First(&report).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("report %q: %w", runID, ErrNotFound)
		}

		return nil, &StoreError{Op: "getting report by run id", Err: err}
	}

	return &report, nil
}

// --- History ---

// History returns the series oldest-first, capped to the most recent
// q.Limit entries. Ordering is by metric id, the insertion order fixed
// inside the append transaction.
func (s *store) History(
	ctx context.Context, q HistoryQuery,
) ([]HistoryEntry, error) {
	query := s.db.WithContext(ctx).
		Table("metrics").
		Select(
			"metrics.id AS metric_id",
			"metrics.report_id",
			"reports.run_id",
			"reports.git_hash",
			"metrics.value",
			"metrics.lower_value",
			"metrics.upper_value",
			"metrics.stddev",
			"metrics.samples",
			"metrics.created_at",
		).
		Joins("JOIN reports ON reports.id = metrics.report_id").
		Where("reports.project_id = ?", q.ProjectID).
		Where("reports.branch_id = ?", q.BranchID).
		Where("reports.testbed_id = ?", q.TestbedID).
		Where("metrics.benchmark_id = ?", q.BenchmarkID).
		Where("metrics.measure_id = ?", q.MeasureID).
		Order("metrics.id DESC")

	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var entries []HistoryEntry
	if err := query.Scan(&entries).Error; err != nil {
		return nil, &StoreError{Op: "querying history", Err: err}
	}

	// Fetched newest-first to apply the limit; flip to oldest-first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	return entries, nil
}

// --- Thresholds ---

func (s *store) CreateThreshold(
	ctx context.Context, t *Threshold,
) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return &StoreError{Op: "creating threshold", Err: err}
	}

	return nil
}

// FindThreshold returns the most specific threshold matching the
// series, or ErrNotFound when none applies. Specificity is the number
// of bound scope fields; newer thresholds win ties.
func (s *store) FindThreshold(
	ctx context.Context,
	projectID uint, branchID, testbedID, measureID uint,
) (*Threshold, error) {
	var candidates []Threshold
	if err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Where("branch_id IS NULL OR branch_id = ?", branchID).
		Where("testbed_id IS NULL OR testbed_id = ?", testbedID).
		Where("measure_id IS NULL OR measure_id = ?", measureID).
		Order("id ASC").
		Find(&candidates).Error; err != nil {
		return nil, &StoreError{Op: "finding threshold", Err: err}
	}

	var (
		best      *Threshold
		bestScore = -1
	)

	for i := range candidates {
		score := 0
		if candidates[i].BranchID != nil {
			score++
		}

		if candidates[i].TestbedID != nil {
			score++
		}

		if candidates[i].MeasureID != nil {
			score++
		}

		if score >= bestScore {
			best = &candidates[i]
			bestScore = score
		}
	}

	if best == nil {
		return nil, fmt.Errorf("threshold: %w", ErrNotFound)
	}

	return best, nil
}

// --- Alerts ---

func (s *store) CreateAlerts(
	ctx context.Context, alerts []Alert,
) error {
	if len(alerts) == 0 {
		return nil
	}

	if err := s.db.WithContext(ctx).Create(&alerts).Error; err != nil {
		return &StoreError{Op: "creating alerts", Err: err}
	}

	return nil
}

func (s *store) ListAlerts(
	ctx context.Context, projectID uint, limit int,
) ([]Alert, error) {
	query := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("id DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	var alerts []Alert
	if err := query.Find(&alerts).Error; err != nil {
		return nil, &StoreError{Op: "listing alerts", Err: err}
	}

	return alerts, nil
}

// --- Artifacts ---

func (s *store) CreateArtifact(
	ctx context.Context, a *Artifact,
) error {
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return &StoreError{Op: "creating artifact", Err: err}
	}

	return nil
}

func (s *store) ListArtifacts(
	ctx context.Context, reportID uint,
) ([]Artifact, error) {
	var artifacts []Artifact
	if err := s.db.WithContext(ctx).
		Where("report_id = ?", reportID).
		Order("id ASC").
		Find(&artifacts).Error; err != nil {
		return nil, &StoreError{Op: "listing artifacts", Err: err}
	}

	return artifacts, nil
}

// --- Tokens ---

// SeedTokens upserts config-sourced API tokens. Only the bcrypt hash
// is stored; the plaintext never leaves the config.
func (s *store) SeedTokens(
	ctx context.Context, tokens []config.AuthToken,
) error {
	for _, t := range tokens {
		hash, err := bcrypt.GenerateFromPassword(
			[]byte(t.Token), bcrypt.DefaultCost,
		)
		if err != nil {
			return fmt.Errorf("hashing token %q: %w", t.Name, err)
		}

		role := t.Role
		if role == "" {
			role = RoleWriter
		}

		result := s.db.WithContext(ctx).
			Where("name = ?", t.Name).
			Assign(Token{TokenHash: string(hash), Role: role}).
			FirstOrCreate(&Token{Name: t.Name})
		if result.Error != nil {
			return &StoreError{
				Op:  fmt.Sprintf("seeding token %q", t.Name),
				Err: result.Error,
			}
		}
	}

	if len(tokens) > 0 {
		s.log.WithField("count", len(tokens)).
			Info("Seeded API tokens from config")
	}

	return nil
}

// VerifyToken matches a presented bearer token against the seeded
// hashes and records the use. Returns ErrNotFound when nothing
// matches.
func (s *store) VerifyToken(
	ctx context.Context, token string,
) (*Token, error) {
	var tokens []Token
	if err := s.db.WithContext(ctx).
		Find(&tokens).Error; err != nil {
		return nil, &StoreError{Op: "listing tokens", Err: err}
	}

	for i := range tokens {
		if bcrypt.CompareHashAndPassword(
			[]byte(tokens[i].TokenHash), []byte(token),
		) == nil {
			now := time.Now().UTC()

			if err := s.db.WithContext(ctx).
				Model(&Token{}).
				Where("id = ?", tokens[i].ID).
				Update("last_used_at", now).Error; err != nil {
				s.log.WithError(err).
					Warn("Failed to record token use")
			}

			tokens[i].LastUsedAt = &now

			return &tokens[i], nil
		}
	}

	return nil, fmt.Errorf("token: %w", ErrNotFound)
}
