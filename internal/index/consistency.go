package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Severity of a consistency finding.
type Severity string

const (
	// SeverityInfo is informational, no action needed.
	SeverityInfo Severity = "info"
	// SeverityWarning is a potential issue worth investigating.
	SeverityWarning Severity = "warning"
	// SeverityError is a definite problem, repair recommended.
	SeverityError Severity = "error"
)

// severityRank orders findings: errors first, then warnings, then info.
func severityRank(s Severity) int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// Finding is a single consistency observation.
type Finding struct {
	// Category is a short machine-readable label, e.g. count_mismatch.
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	// Message is the human-readable description.
	Message string `json:"message"`
	// Suggestion is the remediation action, if any.
	Suggestion string `json:"suggestion,omitempty"`
}

// Report is the outcome of a consistency check run.
type Report struct {
	// Findings sorted by severity, errors first.
	Findings []Finding `json:"findings"`
	// Healthy is true when nothing at error severity was found and no
	// rebuild is needed.
	Healthy bool `json:"healthy"`
	// RebuildRecommended is true when repair should run a full reindex.
	RebuildRecommended bool `json:"rebuild_recommended"`
	// ElapsedMS is the wall-clock time of the check.
	ElapsedMS uint64 `json:"elapsed_ms"`
}

// ErrorCount returns how many findings are at error severity.
func (r *Report) ErrorCount() int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			n++
		}
	}
	return n
}

// WarningCount returns how many findings are at warning severity.
func (r *Report) WarningCount() int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == SeverityWarning {
			n++
		}
	}
	return n
}

// ConsistencyConfig tunes consistency checking.
type ConsistencyConfig struct {
	// CountDriftThreshold is the fraction (0..1) of DB-vs-index count
	// drift above which a rebuild is recommended.
	CountDriftThreshold float64
}

// DefaultConsistencyConfig returns the production defaults.
func DefaultConsistencyConfig() ConsistencyConfig {
	return ConsistencyConfig{CountDriftThreshold: 0.05}
}

// Checker verifies that the index agrees with the primary store and
// with its own on-disk metadata.
type Checker struct {
	source    DocumentSource
	lifecycle Lifecycle
	layout    Layout
	scope     Scope
	schema    SchemaHash
}

// NewChecker creates a consistency checker for one scope.
func NewChecker(source DocumentSource, lifecycle Lifecycle, layout Layout, scope Scope) *Checker {
	return &Checker{
		source:    source,
		lifecycle: lifecycle,
		layout:    layout,
		scope:     scope,
		schema:    lifecycle.Schema(),
	}
}

// Check runs all consistency probes and returns a sorted report.
func (c *Checker) Check(ctx context.Context, cfg ConsistencyConfig) (*Report, error) {
	start := time.Now()
	var findings []Finding
	rebuild := false

	c.checkIndexHealth(&findings, &rebuild)
	c.checkSchemaCompat(&findings, &rebuild)
	c.checkCheckpoint(&findings, &rebuild)
	if err := c.checkDocCounts(ctx, cfg, &findings, &rebuild); err != nil {
		return nil, err
	}

	sort.SliceStable(findings, func(i, j int) bool {
		return severityRank(findings[i].Severity) < severityRank(findings[j].Severity)
	})

	healthy := !rebuild
	for _, f := range findings {
		if f.Severity == SeverityError {
			healthy = false
			break
		}
	}

	report := &Report{
		Findings:           findings,
		Healthy:            healthy,
		RebuildRecommended: rebuild,
		ElapsedMS:          uint64(time.Since(start).Milliseconds()),
	}

	slog.Debug("consistency_check_done",
		slog.String("scope", c.scope.DirName()),
		slog.Bool("healthy", report.Healthy),
		slog.Bool("rebuild_recommended", report.RebuildRecommended),
		slog.Int("findings", len(report.Findings)))

	return report, nil
}

func (c *Checker) checkIndexHealth(findings *[]Finding, rebuild *bool) {
	if c.lifecycle.Ready() {
		*findings = append(*findings, Finding{
			Category: "index_ready",
			Severity: SeverityInfo,
			Message:  "Index is ready",
		})
		return
	}
	*findings = append(*findings, Finding{
		Category:   "index_not_ready",
		Severity:   SeverityError,
		Message:    "Index is not ready to serve",
		Suggestion: "Run a full reindex to rebuild the index.",
	})
	*rebuild = true
}

func (c *Checker) checkSchemaCompat(findings *[]Finding, rebuild *bool) {
	if !c.layout.IsSchemaCompatible(c.scope, EngineLexical, c.schema) {
		*findings = append(*findings, Finding{
			Category:   "schema_drift",
			Severity:   SeverityError,
			Message:    "Active lexical index schema does not match current schema",
			Suggestion: "Run a full reindex to rebuild with the current schema.",
		})
		*rebuild = true
	}

	// A stale semantic index degrades ranking but lexical search still
	// works, so this stays a warning.
	if !c.layout.IsSchemaCompatible(c.scope, EngineSemantic, c.schema) {
		*findings = append(*findings, Finding{
			Category:   "schema_drift",
			Severity:   SeverityWarning,
			Message:    "Active semantic index schema does not match current schema",
			Suggestion: "Run a full reindex to rebuild semantic index with the current schema.",
		})
	}
}

func (c *Checker) checkCheckpoint(findings *[]Finding, rebuild *bool) {
	cp, err := ReadCheckpoint(c.layout.LexicalDir(c.scope, c.schema))
	if err != nil {
		// May be a first build or a lost file.
		*findings = append(*findings, Finding{
			Category:   "missing_checkpoint",
			Severity:   SeverityWarning,
			Message:    "No checkpoint file found for the current schema version",
			Suggestion: "Run a full reindex to create a checkpoint.",
		})
		return
	}

	if !cp.Success {
		*findings = append(*findings, Finding{
			Category:   "incomplete_build",
			Severity:   SeverityError,
			Message:    "Last index build did not complete successfully",
			Suggestion: "Run a full reindex to complete the build.",
		})
		*rebuild = true
	} else if cp.CompletedTS == nil {
		*findings = append(*findings, Finding{
			Category:   "incomplete_build",
			Severity:   SeverityWarning,
			Message:    "Index checkpoint has no completion timestamp",
			Suggestion: "Consider running a full reindex.",
		})
	}
}

func (c *Checker) checkDocCounts(ctx context.Context, cfg ConsistencyConfig, findings *[]Finding, rebuild *bool) error {
	dbCount, err := c.source.TotalCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to count source documents: %w", err)
	}
	idxCount, err := c.lifecycle.DocCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to count indexed documents: %w", err)
	}
	indexCount := int64(idxCount)

	if dbCount == 0 && indexCount == 0 {
		*findings = append(*findings, Finding{
			Category: "empty_index",
			Severity: SeverityInfo,
			Message:  "Both DB and index are empty",
		})
		return nil
	}

	if dbCount == indexCount {
		*findings = append(*findings, Finding{
			Category: "count_match",
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("Document counts match: %d in both DB and index", dbCount),
		})
		return nil
	}

	absDiff := dbCount - indexCount
	if absDiff < 0 {
		absDiff = -absDiff
	}
	maxCount := dbCount
	if indexCount > maxCount {
		maxCount = indexCount
	}
	// Drift as an integer percentage so sub-percent fractions round down.
	driftPct := (absDiff * 100) / maxCount
	thresholdPct := int64(cfg.CountDriftThreshold * 100)

	severity := SeverityWarning
	suggestion := "Minor drift detected. Incremental updates should resolve this."
	if driftPct > thresholdPct {
		*rebuild = true
		severity = SeverityError
		suggestion = "Significant drift detected. Run a full reindex."
	}

	*findings = append(*findings, Finding{
		Category: "count_mismatch",
		Severity: severity,
		Message: fmt.Sprintf("Document count mismatch: DB has %d, index has %d (%d%% drift)",
			dbCount, indexCount, driftPct),
		Suggestion: suggestion,
	})
	return nil
}
