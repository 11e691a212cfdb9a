// Package validation runs the structure, value, continuity and price-range
// checks against a raw symbol series before it reaches the engine, and
// computes the content fingerprint used to detect silently-changed cache
// files. It is a fixed ordered battery of checks that never aborts on its
// own: every check runs and reports its findings as issues. A series with a
// critical issue is marked not usable, and the orchestrator then fails that
// symbol with a DataError instead of running the engine; every other issue
// becomes a run warning. The price-range check covers the series' own open
// gaps and intraday ranges only; trade prices are not range-checked, here
// or at trade time.
package validation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/atlas-quant/nifty-backtester/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Issue mirrors one detected problem, tagged with a severity so the report
// can be summarized without re-walking every check.
type Issue struct {
	Check    string
	Severity string // "critical", "high", "medium", "low"
	BarIndex int
	Message  string
}

// Report summarizes one symbol's validation pass.
type Report struct {
	Symbol          string
	TotalBars       int
	Issues          []Issue
	QualityScore    int
	IsUsable        bool
	Fingerprint     types.DataFingerprint
	Recommendations []string
}

// Validator runs the fixed battery of checks in order: structure, value,
// continuity, price-range, then fingerprinting. Thresholds default to the
// NSE/BSE equity profile.
type Validator struct {
	logger *zap.Logger

	MaxIntradayMove   float64 // e.g. 0.20 for a 20% circuit-breaker-scale move
	MaxGapMove        float64 // e.g. 0.15 for a 15% open-vs-prior-close gap
	MinVolume         float64
	MaxVolumeMultiple float64
}

// NewValidator returns a Validator configured with the conservative NSE
// equity defaults used across the bundled strategies' fixtures.
func NewValidator(logger *zap.Logger) *Validator {
	return &Validator{
		logger:            logger,
		MaxIntradayMove:   0.20,
		MaxGapMove:        0.15,
		MinVolume:         0,
		MaxVolumeMultiple: 15.0,
	}
}

// Validate runs the full check battery against a series, in the fixed order
// required: structure, value, continuity, price-range, fingerprint.
func (v *Validator) Validate(series *types.Series) *Report {
	symbol := series.Symbol
	if series.Len() == 0 {
		return &Report{
			Symbol:   symbol,
			Issues:   []Issue{{Check: "structure", Severity: "critical", Message: "no bars provided"}},
			IsUsable: false,
		}
	}

	var issues []Issue
	issues = append(issues, v.checkStructure(series)...)
	issues = append(issues, v.checkValues(series)...)
	issues = append(issues, v.checkContinuity(series)...)
	issues = append(issues, v.checkPriceRange(series)...)

	score := qualityScore(series.Len(), issues)
	usable := !hasSeverity(issues, "critical")

	report := &Report{
		Symbol:          symbol,
		TotalBars:       series.Len(),
		Issues:          issues,
		QualityScore:    score,
		IsUsable:        usable,
		Fingerprint:     Fingerprint(series),
		Recommendations: recommendations(issues, series.Len()),
	}
	if v.logger != nil && len(issues) > 0 {
		v.logger.Warn("validation issues found",
			zap.String("symbol", symbol),
			zap.Int("issue_count", len(issues)),
			zap.Int("quality_score", score),
		)
	}
	return report
}

// minRowsForFullConfidence is the row-count floor below which the series
// still trades but the engine may not clear its warm-up, per the bundled
// strategies' longest lookback.
const minRowsForFullConfidence = 100

func (v *Validator) checkStructure(s *types.Series) []Issue {
	var issues []Issue
	if len(s.Bars) < minRowsForFullConfidence {
		issues = append(issues, Issue{Check: "structure", Severity: "low",
			Message: fmt.Sprintf("series has only %d rows, below the %d-row floor (engine still runs)", len(s.Bars), minRowsForFullConfidence)})
	}
	for i, b := range s.Bars {
		if b.Timestamp.IsZero() {
			issues = append(issues, Issue{Check: "structure", Severity: "critical", BarIndex: i, Message: "zero timestamp"})
		}
		if b.Open.IsZero() && b.High.IsZero() && b.Low.IsZero() && b.Close.IsZero() {
			issues = append(issues, Issue{Check: "structure", Severity: "critical", BarIndex: i, Message: "all-zero OHLC row"})
		}
	}
	return issues
}

func (v *Validator) checkValues(s *types.Series) []Issue {
	var issues []Issue
	for i, b := range s.Bars {
		if !b.Valid() {
			issues = append(issues, Issue{Check: "value", Severity: "high", BarIndex: i,
				Message: fmt.Sprintf("OHLC inconsistent: O=%s H=%s L=%s C=%s", b.Open, b.High, b.Low, b.Close)})
		}
		if b.Volume.IsNegative() {
			issues = append(issues, Issue{Check: "value", Severity: "medium", BarIndex: i, Message: "negative volume"})
		}
		if b.Volume.IsZero() {
			issues = append(issues, Issue{Check: "value", Severity: "low", BarIndex: i, Message: "zero volume"})
		}
	}
	return issues
}

func (v *Validator) checkContinuity(s *types.Series) []Issue {
	var issues []Issue
	seen := make(map[int64]bool, s.Len())
	for i := 1; i < s.Len(); i++ {
		prev, cur := s.Bars[i-1], s.Bars[i]
		if !cur.Timestamp.After(prev.Timestamp) {
			issues = append(issues, Issue{Check: "continuity", Severity: "critical", BarIndex: i,
				Message: "timestamp not strictly increasing"})
		}
		key := cur.Timestamp.Unix()
		if seen[key] {
			issues = append(issues, Issue{Check: "continuity", Severity: "high", BarIndex: i, Message: "duplicate timestamp"})
		}
		seen[key] = true
	}
	return issues
}

func (v *Validator) checkPriceRange(s *types.Series) []Issue {
	var issues []Issue
	for i := 1; i < s.Len(); i++ {
		prev, cur := s.Bars[i-1], s.Bars[i]
		if prev.Close.IsZero() {
			continue
		}
		gap := cur.Open.Sub(prev.Close).Div(prev.Close).Abs().InexactFloat64()
		if gap > v.MaxGapMove {
			issues = append(issues, Issue{Check: "price_range", Severity: "medium", BarIndex: i,
				Message: fmt.Sprintf("gap of %.1f%% exceeds threshold", gap*100)})
		}
		if cur.Low.IsZero() {
			continue
		}
		intraday := cur.High.Sub(cur.Low).Div(cur.Low).InexactFloat64()
		if intraday > v.MaxIntradayMove {
			issues = append(issues, Issue{Check: "price_range", Severity: "medium", BarIndex: i,
				Message: fmt.Sprintf("intraday range of %.1f%% exceeds threshold", intraday*100)})
		}
	}
	return issues
}

func hasSeverity(issues []Issue, severity string) bool {
	for _, i := range issues {
		if i.Severity == severity {
			return true
		}
	}
	return false
}

func qualityScore(totalBars int, issues []Issue) int {
	score := 100
	for _, i := range issues {
		switch i.Severity {
		case "critical":
			score -= 10
		case "high":
			score -= 5
		case "medium":
			score -= 2
		case "low":
			score -= 1
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

func recommendations(issues []Issue, totalBars int) []string {
	counts := make(map[string]int)
	malformedRows := 0
	for _, i := range issues {
		counts[i.Check]++
		if i.Check == "structure" && i.Severity != "low" {
			malformedRows++
		}
	}
	var recs []string
	if counts["continuity"] > 0 {
		recs = append(recs, "re-fetch the source series, duplicate or out-of-order timestamps were found")
	}
	if counts["price_range"] > totalBars/20 {
		recs = append(recs, "review corporate-action adjustments, a large share of bars exceed the gap/range thresholds")
	}
	if totalBars < minRowsForFullConfidence {
		recs = append(recs, "extend the history window, the series is short enough that the engine's warm-up may not fit")
	}
	if malformedRows > 0 {
		recs = append(recs, "discard and re-download, malformed rows were present")
	}
	return recs
}

// Fingerprint computes the 8-hex-char content fingerprint over a series: a
// sha256 digest of high_sum|low_sum|close_sum|row_count|first_ts|last_ts,
// truncated to its first 4 bytes. Used to detect a cache file whose content
// changed without its name changing.
func Fingerprint(s *types.Series) types.DataFingerprint {
	if s.Len() == 0 {
		return ""
	}
	highSum, lowSum, closeSum := decimal.Zero, decimal.Zero, decimal.Zero
	for _, b := range s.Bars {
		highSum = highSum.Add(b.High)
		lowSum = lowSum.Add(b.Low)
		closeSum = closeSum.Add(b.Close)
	}
	first, last := s.Bars[0].Timestamp, s.Bars[len(s.Bars)-1].Timestamp
	payload := fmt.Sprintf("%s|%s|%s|%d|%d|%d",
		highSum.StringFixed(4), lowSum.StringFixed(4), closeSum.StringFixed(4),
		s.Len(), first.Unix(), last.Unix())
	sum := sha256.Sum256([]byte(payload))
	return types.DataFingerprint(hex.EncodeToString(sum[:4]))
}

// SortIssuesBySeverity is a reporting convenience: critical first.
func SortIssuesBySeverity(issues []Issue) {
	rank := map[string]int{"critical": 0, "high": 1, "medium": 2, "low": 3}
	sort.SliceStable(issues, func(i, j int) bool { return rank[issues[i].Severity] < rank[issues[j].Severity] })
}
