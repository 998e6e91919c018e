package mainstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mirahq/mira/pkg/model"
)

// projectRow, dependencyRow, etc. are the GORM-mapped equivalents of the
// SQLite schema internal/pool/migrations.go defines, for the shared
// multi-host Postgres backend (SPEC_FULL.md §2: "a Postgres/GORM
// implementation... for multi-host deployments sharing one Main store
// across watcher hosts").
type projectRow struct {
	ID        int64 `gorm:"primaryKey"`
	Path      string `gorm:"uniqueIndex"`
	Name      string
	CreatedAt time.Time
}

func (projectRow) TableName() string { return "projects" }

type dependencyRow struct {
	ProjectID      int64  `gorm:"primaryKey;column:project_id"`
	SrcModule      string `gorm:"primaryKey;column:src_module"`
	TgtModule      string `gorm:"primaryKey;column:tgt_module"`
	DependencyType string `gorm:"column:dependency_type"`
	CallCount      int    `gorm:"column:call_count"`
	ImportCount    int    `gorm:"column:import_count"`
	IsCircular     bool   `gorm:"column:is_circular"`
}

func (dependencyRow) TableName() string { return "dependencies" }

type patternRow struct {
	ProjectID   int64  `gorm:"primaryKey;column:project_id"`
	ModuleID    string `gorm:"primaryKey;column:module_id"`
	PatternName string `gorm:"primaryKey;column:pattern_name"`
	Confidence  float64
	Evidence    pq.StringArray `gorm:"type:text[]"`
}

func (patternRow) TableName() string { return "patterns" }

type debtScoreRow struct {
	ProjectID    int64  `gorm:"primaryKey;column:project_id"`
	ModuleID     string `gorm:"primaryKey;column:module_id"`
	Overall      float64
	Tier         string
	Factors      string
	LineCount    int `gorm:"column:line_count"`
	FindingCount int `gorm:"column:finding_count"`
}

func (debtScoreRow) TableName() string { return "debt_scores" }

type moduleConventionRow struct {
	ProjectID        int64  `gorm:"primaryKey;column:project_id"`
	ModuleID         string `gorm:"primaryKey;column:module_id"`
	ErrorHandling    string `gorm:"column:error_handling"`
	TestPattern      string `gorm:"column:test_pattern"`
	Naming           string
	KeyImports       pq.StringArray `gorm:"type:text[];column:key_imports"`
	DetectedPatterns pq.StringArray `gorm:"type:text[];column:detected_patterns"`
}

func (moduleConventionRow) TableName() string { return "module_conventions" }

type healthScanStateRow struct {
	ProjectID int64  `gorm:"primaryKey;column:project_id"`
	State     string `gorm:"column:state"`
}

func (healthScanStateRow) TableName() string { return "health_scan_state" }

// codeChunkEmbeddingRow mirrors the sqlite-vec vec_code table using
// pgvector-go's Vector type for the Postgres backend (SPEC_FULL.md §2).
type codeChunkEmbeddingRow struct {
	ID        int64 `gorm:"primaryKey"`
	ProjectID int64 `gorm:"column:project_id"`
	FilePath  string `gorm:"column:file_path"`
	StartLine int    `gorm:"column:start_line"`
	Content   string `gorm:"column:chunk_content"`
	Embedding pgvector.Vector `gorm:"type:vector(1536)"`
}

func (codeChunkEmbeddingRow) TableName() string { return "code_chunk_embeddings" }

// PostgresBackend implements Backend against a shared Postgres database,
// migrated with gormigrate so multiple watcher hosts can run against one
// Main store.
type PostgresBackend struct {
	db *gorm.DB
}

// OpenPostgresBackend dials dsn, runs the gormigrate migration set, and
// returns a ready Backend.
func OpenPostgresBackend(dsn string) (*PostgresBackend, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open postgres main store: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return nil, err
	}
	return &PostgresBackend{db: db}, nil
}

func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "202601010001_initial",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(
					&projectRow{}, &dependencyRow{}, &patternRow{}, &debtScoreRow{},
					&moduleConventionRow{}, &healthScanStateRow{}, &codeChunkEmbeddingRow{},
				)
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(
					&projectRow{}, &dependencyRow{}, &patternRow{}, &debtScoreRow{},
					&moduleConventionRow{}, &healthScanStateRow{}, &codeChunkEmbeddingRow{},
				)
			},
		},
	})
	return m.Migrate()
}

func (b *PostgresBackend) GetOrCreateProject(ctx context.Context, path, name string) (*model.Project, error) {
	var row projectRow
	err := b.db.WithContext(ctx).Where("path = ?", path).First(&row).Error
	if err == nil {
		return &model.Project{ID: row.ID, Path: row.Path, Name: row.Name, CreatedAt: row.CreatedAt}, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	row = projectRow{Path: path, Name: name, CreatedAt: time.Now().UTC()}
	if err := b.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}
	return &model.Project{ID: row.ID, Path: row.Path, Name: row.Name, CreatedAt: row.CreatedAt}, nil
}

func (b *PostgresBackend) GetProject(ctx context.Context, projectID int64) (*model.Project, error) {
	var row projectRow
	if err := b.db.WithContext(ctx).First(&row, projectID).Error; err != nil {
		return nil, err
	}
	return &model.Project{ID: row.ID, Path: row.Path, Name: row.Name, CreatedAt: row.CreatedAt}, nil
}

func (b *PostgresBackend) WriteDependencies(ctx context.Context, projectID int64, edges []model.DependencyEdge) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", projectID).Delete(&dependencyRow{}).Error; err != nil {
			return err
		}
		for _, d := range edges {
			row := dependencyRow{
				ProjectID: projectID, SrcModule: d.SrcModule, TgtModule: d.TgtModule,
				DependencyType: string(d.Type), CallCount: d.CallCount, ImportCount: d.ImportCount, IsCircular: d.IsCircular,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *PostgresBackend) WritePatterns(ctx context.Context, projectID int64, findings []model.PatternFinding) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", projectID).Delete(&patternRow{}).Error; err != nil {
			return err
		}
		for _, p := range findings {
			row := patternRow{ProjectID: projectID, ModuleID: p.ModuleID, PatternName: p.Pattern, Confidence: p.Confidence, Evidence: pq.StringArray(p.Evidence)}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *PostgresBackend) WriteDebtScores(ctx context.Context, projectID int64, scores []model.DebtScore) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", projectID).Delete(&debtScoreRow{}).Error; err != nil {
			return err
		}
		for _, d := range scores {
			factors, _ := json.Marshal(d.Factors)
			row := debtScoreRow{
				ProjectID: projectID, ModuleID: d.ModuleID, Overall: d.Overall, Tier: string(d.Tier),
				Factors: string(factors), LineCount: d.LineCount, FindingCount: d.FindingCount,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *PostgresBackend) WriteConventions(ctx context.Context, projectID int64, conventions []model.ModuleConvention) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", projectID).Delete(&moduleConventionRow{}).Error; err != nil {
			return err
		}
		for _, c := range conventions {
			row := moduleConventionRow{
				ProjectID: projectID, ModuleID: c.ModuleID, ErrorHandling: c.ErrorHandling, TestPattern: c.TestPattern,
				Naming: c.Naming, KeyImports: pq.StringArray(c.KeyImports), DetectedPatterns: pq.StringArray(c.DetectedPatterns),
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *PostgresBackend) Dependencies(ctx context.Context, projectID int64) ([]model.DependencyEdge, error) {
	var rows []dependencyRow
	if err := b.db.WithContext(ctx).Where("project_id = ?", projectID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.DependencyEdge, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.DependencyEdge{
			ProjectID: projectID, SrcModule: r.SrcModule, TgtModule: r.TgtModule,
			Type: model.DependencyType(r.DependencyType), CallCount: r.CallCount, ImportCount: r.ImportCount, IsCircular: r.IsCircular,
		})
	}
	return out, nil
}

func (b *PostgresBackend) Patterns(ctx context.Context, projectID int64) ([]model.PatternFinding, error) {
	var rows []patternRow
	if err := b.db.WithContext(ctx).Where("project_id = ?", projectID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.PatternFinding, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.PatternFinding{ProjectID: projectID, ModuleID: r.ModuleID, Pattern: r.PatternName, Confidence: r.Confidence, Evidence: []string(r.Evidence)})
	}
	return out, nil
}

func (b *PostgresBackend) DebtScores(ctx context.Context, projectID int64) ([]model.DebtScore, error) {
	var rows []debtScoreRow
	if err := b.db.WithContext(ctx).Where("project_id = ?", projectID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.DebtScore, 0, len(rows))
	for _, r := range rows {
		var factors []model.DebtFactor
		_ = json.Unmarshal([]byte(r.Factors), &factors)
		out = append(out, model.DebtScore{
			ProjectID: projectID, ModuleID: r.ModuleID, Overall: r.Overall, Tier: model.DebtTier(r.Tier),
			Factors: factors, LineCount: r.LineCount, FindingCount: r.FindingCount,
		})
	}
	return out, nil
}

func (b *PostgresBackend) Conventions(ctx context.Context, projectID int64) ([]model.ModuleConvention, error) {
	var rows []moduleConventionRow
	if err := b.db.WithContext(ctx).Where("project_id = ?", projectID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.ModuleConvention, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.ModuleConvention{
			ProjectID: projectID, ModuleID: r.ModuleID, ErrorHandling: r.ErrorHandling, TestPattern: r.TestPattern,
			Naming: r.Naming, KeyImports: []string(r.KeyImports), DetectedPatterns: []string(r.DetectedPatterns),
		})
	}
	return out, nil
}

func (b *PostgresBackend) ScanState(ctx context.Context, projectID int64) (model.HealthScanState, error) {
	var row healthScanStateRow
	err := b.db.WithContext(ctx).First(&row, "project_id = ?", projectID).Error
	if err == gorm.ErrRecordNotFound {
		return model.ScanDirty, nil
	}
	if err != nil {
		return "", err
	}
	return model.HealthScanState(row.State), nil
}

func (b *PostgresBackend) SetScanState(ctx context.Context, projectID int64, from, to model.HealthScanState) (bool, error) {
	var changed bool
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&healthScanStateRow{}).Where("project_id = ? AND state = ?", projectID, string(from)).Update("state", string(to))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			changed = true
			return nil
		}
		err := tx.Clauses().Save(&healthScanStateRow{ProjectID: projectID, State: string(to)}).Error
		if err == nil {
			changed = true
		}
		return err
	})
	return changed, err
}

func (b *PostgresBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
