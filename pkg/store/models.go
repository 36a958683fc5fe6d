package store

import (
	"time"
)

// Project is the top-level grouping for benchmarks, identified by slug.
type Project struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Slug        string    `gorm:"uniqueIndex;not null" json:"slug"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `json:"description,omitempty"`
	Public      bool      `gorm:"not null;default:false" json:"public"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Branch is one code line within a project, created implicitly on
// first submission.
type Branch struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID uint      `gorm:"not null;uniqueIndex:idx_branches_project_name" json:"project_id"`
	Name      string    `gorm:"not null;uniqueIndex:idx_branches_project_name" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Testbed is a named execution environment, created implicitly on
// first submission.
type Testbed struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID uint      `gorm:"not null;uniqueIndex:idx_testbeds_project_name" json:"project_id"`
	Name      string    `gorm:"not null;uniqueIndex:idx_testbeds_project_name" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Benchmark is one named benchmark within a project.
type Benchmark struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID uint      `gorm:"not null;uniqueIndex:idx_benchmarks_project_name" json:"project_id"`
	Name      string    `gorm:"not null;uniqueIndex:idx_benchmarks_project_name" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Measure names a metric within a project and fixes its unit and
// directionality once established.
type Measure struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID uint      `gorm:"not null;uniqueIndex:idx_measures_project_name" json:"project_id"`
	Name      string    `gorm:"not null;uniqueIndex:idx_measures_project_name" json:"name"`
	Units     string    `json:"units,omitempty"`
	Direction string    `gorm:"not null;default:lower" json:"direction"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Report is one accepted submission (a run). Immutable once stored.
type Report struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RunID     string    `gorm:"not null;uniqueIndex:idx_reports_project_run" json:"run_id"`
	ProjectID uint      `gorm:"not null;uniqueIndex:idx_reports_project_run" json:"project_id"`
	BranchID  uint      `gorm:"not null;index" json:"branch_id"`
	TestbedID uint      `gorm:"not null;index" json:"testbed_id"`
	GitHash   string    `json:"git_hash,omitempty"`
	PRNumber  *int      `json:"pr_number,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// Metric is one stored measurement. The autoincrement ID assigned
// inside the append transaction is the series insertion order.
type Metric struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ReportID    uint      `gorm:"not null;index" json:"report_id"`
	BenchmarkID uint      `gorm:"not null;index" json:"benchmark_id"`
	MeasureID   uint      `gorm:"not null;index" json:"measure_id"`
	Value       float64   `gorm:"not null" json:"value"`
	LowerValue  *float64  `json:"lower_value,omitempty"`
	UpperValue  *float64  `json:"upper_value,omitempty"`
	Stddev      *float64  `json:"stddev,omitempty"`
	Samples     int       `gorm:"not null;default:1" json:"samples"`
	CreatedAt   time.Time `json:"created_at"`
}

// Threshold overrides the detection policy for a scope within a
// project. Nil branch/testbed/measure fields mean "any"; the most
// specific matching threshold wins.
type Threshold struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	ProjectID        uint      `gorm:"not null;index" json:"project_id"`
	BranchID         *uint     `json:"branch_id,omitempty"`
	TestbedID        *uint     `json:"testbed_id,omitempty"`
	MeasureID        *uint     `json:"measure_id,omitempty"`
	Window           *int      `json:"window,omitempty"`
	MinSamples       *int      `json:"min_samples,omitempty"`
	MaxPercentChange *float64  `json:"max_percent_change,omitempty"`
	SigmaMultiplier  *float64  `json:"sigma_multiplier,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Alert statuses.
const (
	AlertRegression  = "regression"
	AlertImprovement = "improvement"
)

// Alert records a threshold crossing for display and notification
// collaborators. Verdicts themselves are derived values; alerts are
// the persisted trace of the interesting ones.
type Alert struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ProjectID     uint      `gorm:"not null;index" json:"project_id"`
	ReportID      uint      `gorm:"not null;index" json:"report_id"`
	MetricID      uint      `gorm:"not null" json:"metric_id"`
	BenchmarkID   uint      `gorm:"not null" json:"benchmark_id"`
	MeasureID     uint      `gorm:"not null" json:"measure_id"`
	Status        string    `gorm:"not null;index" json:"status"`
	BaselineValue float64   `gorm:"not null" json:"baseline_value"`
	CurrentValue  float64   `gorm:"not null" json:"current_value"`
	PercentChange float64   `gorm:"not null" json:"percent_change"`
	CreatedAt     time.Time `json:"created_at"`
}

// Token roles. Writers may submit reports and manage projects;
// readers are limited to authenticated read endpoints.
const (
	RoleWriter = "writer"
	RoleReader = "reader"
)

// Token is a bearer credential for API access, seeded from config.
type Token struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Name       string     `gorm:"uniqueIndex;not null" json:"name"`
	TokenHash  string     `gorm:"not null" json:"-"`
	Role       string     `gorm:"not null" json:"role"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Artifact is an uploaded file (e.g. a flamegraph SVG) attached to a
// report, stored in object storage.
type Artifact struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ReportID    uint      `gorm:"not null;index" json:"report_id"`
	BenchmarkID *uint     `json:"benchmark_id,omitempty"`
	StoragePath string    `gorm:"not null" json:"storage_path"`
	FileName    string    `gorm:"not null" json:"file_name"`
	FileSize    int64     `gorm:"not null" json:"file_size"`
	CreatedAt   time.Time `json:"created_at"`
}
