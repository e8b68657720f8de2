package projects

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"cyberdevstudio/internal/logging"
)

var ErrNotFound = errors.New("project not found")

// Store is the gorm-backed project record keeper. A Postgres DSN opens a
// real database; an empty DSN opens an in-memory sqlite database and a
// "sqlite://path" DSN opens a local sqlite file, which is how tests and
// single-node deployments run without a Postgres instance.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects to databaseURL and applies the embedded versioned
// migrations (projects and api_keys) through runMigrations.
// databaseURL == "" opens an in-memory sqlite database.
func Open(databaseURL string) (*Store, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var dialector gorm.Dialector
	var driverName string
	switch {
	case databaseURL == "":
		dialector = sqlite.Open(":memory:")
		driverName = "sqlite3"
	case strings.HasPrefix(databaseURL, "sqlite://"):
		dialector = sqlite.Open(strings.TrimPrefix(databaseURL, "sqlite://"))
		driverName = "sqlite3"
	default:
		dialector = postgres.Open(databaseURL)
		driverName = "postgres"
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open project store: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open project store: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := runMigrations(sqlDB, driverName); err != nil {
		return nil, fmt.Errorf("migrate project store: %w", err)
	}

	return &Store{db: db, log: logging.L().Named("projects")}, nil
}

func (s *Store) Create(p *Project) error {
	if err := s.db.Create(p).Error; err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	s.log.Debug("project created", zap.String("id", p.ID), zap.String("owner_id", p.OwnerID))
	return nil
}

func (s *Store) Get(id string) (Project, error) {
	var p Project
	if err := s.db.First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Project{}, ErrNotFound
		}
		return Project{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// ListByOwner returns every non-archived project owned by ownerID, newest
// first.
func (s *Store) ListByOwner(ownerID string) ([]Project, error) {
	var out []Project
	err := s.db.Where("owner_id = ? AND archived = ?", ownerID, false).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return out, nil
}

func (s *Store) Archive(id string) error {
	res := s.db.Model(&Project{}).Where("id = ?", id).Update("archived", true)
	if res.Error != nil {
		return fmt.Errorf("archive project: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Delete(id string) error {
	res := s.db.Delete(&Project{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete project: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
