package analytics

import (
	"fmt"
	"strings"

	"github.com/mirahq/mira/pkg/model"
)

// DetectPatterns produces per-module {pattern, confidence, evidence}
// findings (spec §4.I "Patterns") from language- and naming-based
// heuristics over that module's symbols.
func DetectPatterns(projectID int64, symbols []model.Symbol) []model.PatternFinding {
	var out []model.PatternFinding
	for moduleID, syms := range groupByModule(symbols) {
		out = append(out, detectModulePatterns(projectID, moduleID, syms)...)
	}
	return out
}

func detectModulePatterns(projectID int64, moduleID string, syms []model.Symbol) []model.PatternFinding {
	if len(syms) == 0 {
		return nil
	}
	var findings []model.PatternFinding

	if f, ok := abstractInterfaceFinding(projectID, moduleID, syms); ok {
		findings = append(findings, f)
	}
	if f, ok := factoryFinding(projectID, moduleID, syms); ok {
		findings = append(findings, f)
	}
	if f, ok := repositoryFinding(projectID, moduleID, syms); ok {
		findings = append(findings, f)
	}
	if f, ok := cliEntrypointFinding(projectID, moduleID, syms); ok {
		findings = append(findings, f)
	}
	if f, ok := testSuiteFinding(projectID, moduleID, syms); ok {
		findings = append(findings, f)
	}
	return findings
}

// abstractInterfaceFinding matches a module dominated by trait/interface-
// shaped declarations with little concrete implementation of their own.
func abstractInterfaceFinding(projectID int64, moduleID string, syms []model.Symbol) (model.PatternFinding, bool) {
	total, traitLike := 0, 0
	var evidence []string
	for _, s := range syms {
		total++
		if s.Kind == model.KindTrait || (s.Kind == model.KindType && strings.HasSuffix(s.Name, "er") && s.Signature == "") {
			traitLike++
			if len(evidence) < 5 {
				evidence = append(evidence, s.Name)
			}
		}
	}
	if total == 0 {
		return model.PatternFinding{}, false
	}
	ratio := float64(traitLike) / float64(total)
	if ratio < 0.3 {
		return model.PatternFinding{}, false
	}
	return model.PatternFinding{
		ProjectID: projectID, ModuleID: moduleID,
		Pattern: "abstract interface layer", Confidence: clamp01(ratio),
		Evidence: evidence,
	}, true
}

// factoryFinding matches a module whose functions are disproportionately
// constructors ("New*"/"new_*"/"create_*").
func factoryFinding(projectID int64, moduleID string, syms []model.Symbol) (model.PatternFinding, bool) {
	total, factories := 0, 0
	var evidence []string
	for _, s := range syms {
		if s.Kind != model.KindFunction && s.Kind != model.KindMethod {
			continue
		}
		total++
		n := s.Name
		if strings.HasPrefix(n, "New") || strings.HasPrefix(n, "new_") || strings.HasPrefix(n, "create_") || strings.HasPrefix(n, "Create") {
			factories++
			if len(evidence) < 5 {
				evidence = append(evidence, n)
			}
		}
	}
	if total < 3 {
		return model.PatternFinding{}, false
	}
	ratio := float64(factories) / float64(total)
	if ratio < 0.25 {
		return model.PatternFinding{}, false
	}
	return model.PatternFinding{
		ProjectID: projectID, ModuleID: moduleID,
		Pattern: "factory functions", Confidence: clamp01(ratio + 0.2),
		Evidence: evidence,
	}, true
}

// repositoryFinding matches a module whose symbol names read as storage
// gateways: a type suffixed Store/Repository/Repo with CRUD-shaped methods.
func repositoryFinding(projectID int64, moduleID string, syms []model.Symbol) (model.PatternFinding, bool) {
	var typeHit string
	crud := 0
	var evidence []string
	verbs := []string{"Get", "List", "Save", "Store", "Delete", "Find", "Insert", "Update"}
	for _, s := range syms {
		if typeHit == "" && (s.Kind == model.KindStruct || s.Kind == model.KindClass || s.Kind == model.KindType) {
			if strings.HasSuffix(s.Name, "Store") || strings.HasSuffix(s.Name, "Repository") || strings.HasSuffix(s.Name, "Repo") {
				typeHit = s.Name
			}
		}
		if s.Kind != model.KindMethod && s.Kind != model.KindFunction {
			continue
		}
		for _, v := range verbs {
			if strings.HasPrefix(s.Name, v) || strings.Contains(s.QualifiedName, "::"+v) {
				crud++
				if len(evidence) < 5 {
					evidence = append(evidence, s.Name)
				}
				break
			}
		}
	}
	if typeHit == "" || crud < 2 {
		return model.PatternFinding{}, false
	}
	return model.PatternFinding{
		ProjectID: projectID, ModuleID: moduleID,
		Pattern:  "repository pattern",
		Confidence: clamp01(0.5 + 0.1*float64(crud)),
		Evidence: append([]string{"type " + typeHit}, evidence...),
	}, true
}

// cliEntrypointFinding matches a cmd/-rooted module with a main/run entry.
func cliEntrypointFinding(projectID int64, moduleID string, syms []model.Symbol) (model.PatternFinding, bool) {
	if !strings.HasPrefix(moduleID, "cmd/") && !strings.Contains(moduleID, "/cmd/") {
		return model.PatternFinding{}, false
	}
	for _, s := range syms {
		if s.Name == "main" || strings.HasPrefix(s.Name, "run") || strings.HasPrefix(s.Name, "Run") {
			return model.PatternFinding{
				ProjectID: projectID, ModuleID: moduleID,
				Pattern: "cli entrypoint", Confidence: 0.8,
				Evidence: []string{fmt.Sprintf("%s in %s", s.Name, moduleID)},
			}, true
		}
	}
	return model.PatternFinding{}, false
}

// testSuiteFinding flags a module that is mostly test code.
func testSuiteFinding(projectID int64, moduleID string, syms []model.Symbol) (model.PatternFinding, bool) {
	total, tests := 0, 0
	for _, s := range syms {
		total++
		if s.IsTest {
			tests++
		}
	}
	if total == 0 {
		return model.PatternFinding{}, false
	}
	ratio := float64(tests) / float64(total)
	if ratio < 0.5 {
		return model.PatternFinding{}, false
	}
	return model.PatternFinding{
		ProjectID: projectID, ModuleID: moduleID,
		Pattern: "test suite", Confidence: clamp01(ratio),
		Evidence: []string{fmt.Sprintf("%d/%d symbols are tests", tests, total)},
	}, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
