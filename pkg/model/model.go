// Package model holds the entities persisted and served by the
// code-intelligence core: projects, symbols, imports, call edges, code
// chunks, and the derived analytics tables. Types here are exported because
// the agentic tool loop and its external consumers (spec §1) read them
// directly off query results.
package model

import "time"

// Project is a registered root directory under which files are watched and
// indexed. Path uniquely identifies a project; get-or-create never
// duplicates it.
type Project struct {
	ID          int64
	Path        string
	Name        string
	CreatedAt   time.Time
}

// SymbolKind enumerates the declaration kinds a parser can emit.
type SymbolKind string

const (
	KindFunction SymbolKind = "function"
	KindStruct   SymbolKind = "struct"
	KindEnum     SymbolKind = "enum"
	KindTrait    SymbolKind = "trait"
	KindImpl     SymbolKind = "impl"
	KindConst    SymbolKind = "const"
	KindStatic   SymbolKind = "static"
	KindModule   SymbolKind = "module"
	KindType     SymbolKind = "type"
	KindMethod   SymbolKind = "method"
	KindClass    SymbolKind = "class"
)

// Symbol is a named declaration extracted from source.
type Symbol struct {
	ID            int64
	ProjectID     int64
	FilePath      string // project-relative
	Name          string
	Kind          SymbolKind
	StartLine     int // 1-indexed, inclusive
	EndLine       int // 1-indexed, inclusive
	Signature     string
	QualifiedName string // "Parent::Name" for members
	Language      string
	Visibility    string
	IsTest        bool
	IsAsync       bool
	Documentation string
}

// Contains reports whether line lies within [StartLine, EndLine] inclusive.
func (s Symbol) Contains(line int) bool {
	return line >= s.StartLine && line <= s.EndLine
}

// Import is a single import/use declaration found in a file.
type Import struct {
	ProjectID  int64
	FilePath   string
	ImportPath string
	IsExternal bool
}

// CallKind enumerates how a call site invokes its callee.
type CallKind string

const (
	CallDirect CallKind = "direct"
	CallMethod CallKind = "method"
	CallMacro  CallKind = "macro"
)

// CallEdge is a directed reference from a caller symbol to a callee name.
type CallEdge struct {
	CallerID   int64
	CalleeName string
	CalleeID   *int64 // nil when unresolved
	CallLine   int
	Kind       CallKind
}

// CodeChunk is a self-contained text unit suitable for one embedding call.
type CodeChunk struct {
	RowID     int64
	ProjectID int64
	FilePath  string
	Content   string
	StartLine int
	Embedding []float32
}

// ChangeKind enumerates filesystem change kinds the watcher observes.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// FileEvent is a transient, debounced filesystem notification.
type FileEvent struct {
	Path       string // absolute
	ChangeKind ChangeKind
	LastSeen   time.Time
}

// ModuleSummary is a regenerated-by-analytics description of a module
// (a logical grouping of files, typically sharing a path prefix).
type ModuleSummary struct {
	ProjectID          int64
	ModuleID           string
	Purpose            string
	CodePreview        string
	DetectedConventions []string
}

// DependencyType enumerates how one module depends on another.
type DependencyType string

const (
	DependencyImport DependencyType = "import"
	DependencyCall   DependencyType = "call"
	DependencyMixed  DependencyType = "mixed"
)

// DependencyEdge is a derived module-to-module dependency.
type DependencyEdge struct {
	ProjectID     int64
	SrcModule     string
	TgtModule     string
	Type          DependencyType
	CallCount     int
	ImportCount   int
	IsCircular    bool
}

// PatternFinding is a derived architectural-pattern observation for a module.
type PatternFinding struct {
	ProjectID  int64
	ModuleID   string
	Pattern    string
	Confidence float64 // [0,1]
	Evidence   []string
}

// DebtTier is the deterministic tier assigned from an overall debt score.
type DebtTier string

const (
	TierA DebtTier = "A"
	TierB DebtTier = "B"
	TierC DebtTier = "C"
	TierD DebtTier = "D"
	TierF DebtTier = "F"
)

// DebtFactor is one weighted contributor to a module's tech-debt score.
type DebtFactor struct {
	Name  string
	Score float64 // [0,100]
	Why   string
}

// DebtScore is the derived tech-debt assessment for a module.
type DebtScore struct {
	ProjectID    int64
	ModuleID     string
	Overall      float64 // [0,100]
	Tier         DebtTier
	Factors      []DebtFactor
	LineCount    int
	FindingCount int
}

// TierFromScore assigns a tier by threshold, deterministic in the overall
// score alone (spec: "tier is a deterministic function of overall").
func TierFromScore(overall float64) DebtTier {
	switch {
	case overall >= 90:
		return TierA
	case overall >= 75:
		return TierB
	case overall >= 60:
		return TierC
	case overall >= 40:
		return TierD
	default:
		return TierF
	}
}

// StructuralChangeKind enumerates the diff classification outcomes.
type StructuralChangeKind string

const (
	SymbolAdded      StructuralChangeKind = "added"
	SymbolRemoved    StructuralChangeKind = "removed"
	SignatureChanged StructuralChangeKind = "signature_changed"
	BodyChanged      StructuralChangeKind = "body_changed"
)

// StructuralChange is one symbol-level classification between two file
// versions; it is transient, produced fresh by each diff call.
type StructuralChange struct {
	SymbolName string
	SymbolKind SymbolKind
	Change     StructuralChangeKind
	LineNumber int
}

// ModuleConvention is a regenerated-by-analytics survey of the conventions
// a module's files follow (spec §4.I "Conventions").
type ModuleConvention struct {
	ProjectID        int64
	ModuleID         string
	ErrorHandling    string   // e.g. "wrapped errors (fmt.Errorf %w)", "panic/recover", "Result/Option-style"
	TestPattern      string   // e.g. "table-driven", "one assertion per test", "none detected"
	Naming           string   // e.g. "snake_case", "camelCase", "mixed"
	KeyImports       []string // most frequent external imports in the module
	DetectedPatterns []string
}

// HealthScanState enumerates the state machine spec §4.I assigns to a
// project's health-scan flag: clean -> dirty -> scanning -> clean.
type HealthScanState string

const (
	ScanClean    HealthScanState = "clean"
	ScanDirty    HealthScanState = "dirty"
	ScanScanning HealthScanState = "scanning"
)
