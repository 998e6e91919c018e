package analytics

import (
	"math"
	"sort"
	"strconv"

	"github.com/mirahq/mira/pkg/model"
)

// debtWeights sum to 1.0; each factor contributes a [0,100] health score
// (higher is healthier, mirroring the teacher's importance-score shape but
// inverted: spec's Tier A is the *best* module, not the most important one).
var debtWeights = map[string]float64{
	"function_length": 0.30,
	"doc_coverage":     0.20,
	"test_presence":    0.20,
	"dead_code":        0.15,
	"fan_out":          0.15,
}

// ComputeDebt derives per-module tech-debt scores (spec §4.I "Tech debt"):
// a weighted sum of factor subscores in [0,100], tiered by
// model.TierFromScore, with the top-impact factors surfaced for tier D/F.
func ComputeDebt(projectID int64, symbols []model.Symbol, deadNames map[string]bool, fanOut map[string]int) []model.DebtScore {
	var out []model.DebtScore
	for moduleID, syms := range groupByModule(symbols) {
		out = append(out, computeModuleDebt(projectID, moduleID, syms, deadNames, fanOut))
	}
	return out
}

func computeModuleDebt(projectID int64, moduleID string, syms []model.Symbol, deadNames map[string]bool, fanOut map[string]int) model.DebtScore {
	type factor struct {
		name  string
		score float64
		why   string
	}

	// function_length: shorter functions score higher; 25 lines is the
	// assumed comfortable ceiling, decaying smoothly past it.
	var lenSum, lenCount float64
	for _, s := range syms {
		if s.Kind != model.KindFunction && s.Kind != model.KindMethod {
			continue
		}
		lenSum += float64(s.EndLine - s.StartLine + 1)
		lenCount++
	}
	lengthScore := 100.0
	avgLen := 0.0
	if lenCount > 0 {
		avgLen = lenSum / lenCount
		over := math.Max(0, avgLen-25)
		lengthScore = 100 * math.Exp(-over/60)
	}

	// doc_coverage: fraction of non-test, non-private symbols documented.
	var docTotal, docHit float64
	for _, s := range syms {
		if s.IsTest || s.Visibility == "private" {
			continue
		}
		docTotal++
		if s.Documentation != "" {
			docHit++
		}
	}
	docScore := 100.0
	if docTotal > 0 {
		docScore = 100 * docHit / docTotal
	}

	// test_presence: ratio of test symbols to non-test symbols, capped at a
	// generous 1:3 ratio counting as full credit.
	var nonTest, tests float64
	for _, s := range syms {
		if s.IsTest {
			tests++
		} else {
			nonTest++
		}
	}
	testScore := 0.0
	if nonTest > 0 {
		ratio := tests / nonTest
		testScore = 100 * math.Min(1, ratio/0.33)
	} else if tests > 0 {
		testScore = 100
	}

	// dead_code: each unreferenced function/method in the module costs 10
	// points, floored at 0.
	dead := 0
	for _, s := range syms {
		if (s.Kind == model.KindFunction || s.Kind == model.KindMethod) && deadNames[s.Name] {
			dead++
		}
	}
	deadScore := math.Max(0, 100-float64(dead)*10)

	// fan_out: average resolved-callee count per function in the module;
	// high fan-out symbols tend to concentrate logic that's hard to change.
	var fanSum, fanCount float64
	for _, s := range syms {
		if s.Kind != model.KindFunction && s.Kind != model.KindMethod {
			continue
		}
		if n, ok := fanOut[s.Name]; ok {
			fanSum += float64(n)
			fanCount++
		}
	}
	fanScore := 100.0
	avgFan := 0.0
	if fanCount > 0 {
		avgFan = fanSum / fanCount
		fanScore = 100 * math.Exp(-math.Max(0, avgFan-8)/12)
	}

	factors := []factor{
		{"function_length", lengthScore, "average function length is " + itoaf(avgLen) + " lines"},
		{"doc_coverage", docScore, "documented fraction of public symbols"},
		{"test_presence", testScore, "ratio of test to non-test symbols"},
		{"dead_code", deadScore, itoaf(float64(dead)) + " unreferenced function(s)/method(s)"},
		{"fan_out", fanScore, "average call fan-out is " + itoaf(avgFan)},
	}

	overall := 0.0
	for _, f := range factors {
		overall += debtWeights[f.name] * f.score
	}
	tier := model.TierFromScore(overall)

	ds := model.DebtScore{
		ProjectID: projectID, ModuleID: moduleID,
		Overall: overall, Tier: tier,
		LineCount:    int(lenSum),
		FindingCount: dead,
	}

	// Surface top-impact factors only for struggling modules (spec: "top
	// contributing factors (> 20) for tier-D/F modules").
	if tier == model.TierD || tier == model.TierF {
		sort.Slice(factors, func(i, j int) bool {
			return debtWeights[factors[i].name]*(100-factors[i].score) > debtWeights[factors[j].name]*(100-factors[j].score)
		})
		for _, f := range factors {
			impact := debtWeights[f.name] * (100 - f.score)
			if impact > 20 {
				ds.Factors = append(ds.Factors, model.DebtFactor{Name: f.name, Score: f.score, Why: f.why})
			}
		}
	}
	return ds
}

func itoaf(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
