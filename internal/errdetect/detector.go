// Package errdetect turns raw container log text into a structured,
// deduplicated, severity-ranked error list. Scanning is pure: the same
// log snapshot always yields the same error set, and detection never
// accumulates state across scans.
package errdetect

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/onyesha/internal/domain"
)

// Detector matches log lines against the build and runtime pattern tables.
// The zero cost of construction makes it safe to share one instance across
// all health monitor loops.
type Detector struct {
	patterns []Pattern // Build patterns first, then runtime patterns.
}

// New creates a Detector with the default pattern tables.
func New() *Detector {
	ps := make([]Pattern, 0, len(buildPatterns)+len(runtimePatterns))
	ps = append(ps, buildPatterns...)
	ps = append(ps, runtimePatterns...)
	return &Detector{patterns: ps}
}

// NewWithPatterns creates a Detector with a caller-supplied table.
// Table order is preserved: earlier entries win on a shared line.
func NewWithPatterns(ps []Pattern) *Detector {
	return &Detector{patterns: ps}
}

// Scan matches every line of logs against the pattern tables and returns
// one PreviewError per distinct (type, message) pair, in first-detected
// order. Later matches of an already-emitted pair are discarded — dedup is
// per scan, not cumulative.
func (d *Detector) Scan(logs, containerID string) []domain.PreviewError {
	if logs == "" {
		return nil
	}

	var out []domain.PreviewError
	seen := make(map[string]bool)
	now := time.Now().UTC()

	for _, line := range strings.Split(logs, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		for _, p := range d.patterns {
			if !p.Regex.MatchString(line) {
				continue
			}
			key := string(p.Type) + "\x00" + p.Message
			if !seen[key] {
				seen[key] = true
				out = append(out, domain.PreviewError{
					ID:             uuid.New(),
					Type:           p.Type,
					Severity:       p.Severity,
					Message:        p.Message,
					Details:        p.Details,
					SuggestedFix:   p.SuggestedFix,
					AutoFixable:    p.AutoFixable,
					DetectedAt:     now,
					ContainerID:    containerID,
					MatchedLine:    strings.TrimSpace(line),
					MatchedPattern: p.Name,
				})
			}
			break // First matching pattern owns the line.
		}
	}
	return out
}

// Analyze computes the derived read-only view over a detected error set.
func Analyze(errs []domain.PreviewError) domain.ErrorAnalysis {
	analysis := domain.ErrorAnalysis{Errors: errs}

	for i := range errs {
		e := &errs[i]
		if e.AutoFixable {
			analysis.FixableErrors = append(analysis.FixableErrors, *e)
		}
		if e.Severity == domain.SeverityCritical {
			analysis.HasCritical = true
		}
		// Ties keep the first-detected error.
		if analysis.MostCritical == nil || e.Severity.Rank() > analysis.MostCritical.Severity.Rank() {
			analysis.MostCritical = e
		}
	}

	analysis.Summary = fmt.Sprintf("%d error(s) detected – %d auto-fixable",
		len(errs), len(analysis.FixableErrors))
	return analysis
}
