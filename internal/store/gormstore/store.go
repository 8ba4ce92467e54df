// Package gormstore implements store.Store on top of gorm (postgres in production, sqlite locally).
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ArCaneSec/watcher/internal/models"
	"github.com/ArCaneSec/watcher/internal/store"

	"github.com/charmbracelet/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	ExistingDB  *gorm.DB
	Dialector   gorm.Dialector
	Logger      logger.Interface
	AutoMigrate bool
}

type Option func(*Config)

func WithExistingDB(db *gorm.DB) Option {
	return func(cfg *Config) {
		cfg.ExistingDB = db
	}
}

func WithDialector(d gorm.Dialector) Option {
	return func(cfg *Config) {
		cfg.Dialector = d
	}
}

func WithLogger(l logger.Interface) Option {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

func WithAutoMigrate(enabled bool) Option {
	return func(cfg *Config) {
		cfg.AutoMigrate = enabled
	}
}

// Dialector picks the gorm dialector for a STORE_DRIVER value.
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "":
		return postgres.Open(dsn), nil
	case "sqlite", "sqlite3":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("gormstore: unsupported driver %q", driver)
	}
}

type Store struct {
	db *gorm.DB
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Admin = (*Store)(nil)
)

func Open(opts ...Option) (*Store, error) {
	cfg := Config{
		Logger:      silentLogger(),
		AutoMigrate: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var db *gorm.DB
	switch {
	case cfg.ExistingDB != nil:
		db = cfg.ExistingDB
	case cfg.Dialector != nil:
		var err error
		db, err = gorm.Open(cfg.Dialector, &gorm.Config{Logger: cfg.Logger, TranslateError: true})
		if err != nil {
			return nil, fmt.Errorf("gormstore: open connection: %w", err)
		}
	default:
		return nil, errors.New("gormstore: no dialector or existing connection provided")
	}

	s := &Store{db: db}
	if cfg.AutoMigrate {
		if err := s.Migrate(context.Background()); err != nil {
			return nil, err
		}
		log.Debug("Database migration completed.")
	}

	return s, nil
}

func silentLogger() logger.Interface {
	return logger.New(
		log.Default(),
		logger.Config{LogLevel: logger.Silent},
	)
}

// DB exposes the underlying connection, mostly for tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&models.WatchTarget{}, &models.ContentCheck{}); err != nil {
		return fmt.Errorf("gormstore: auto migrate: %w", err)
	}
	return nil
}

func (s *Store) Flush(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Migrator().DropTable(&models.ContentCheck{}, &models.WatchTarget{}); err != nil {
		return fmt.Errorf("gormstore: drop tables: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) CreateTarget(ctx context.Context, target *models.WatchTarget) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureURLFree(tx, target.URL, 0); err != nil {
			return err
		}
		if err := tx.Create(target).Error; err != nil {
			return translate(err, "create target")
		}
		return nil
	})
}

func (s *Store) GetTarget(ctx context.Context, id uint) (*models.WatchTarget, error) {
	var t models.WatchTarget
	if err := s.db.WithContext(ctx).Take(&t, id).Error; err != nil {
		return nil, translate(err, "get target")
	}
	return &t, nil
}

func (s *Store) ListTargets(ctx context.Context, filter store.TargetFilter) ([]models.WatchTarget, error) {
	q := s.db.WithContext(ctx).Order("id")
	if filter.Enabled != nil {
		q = q.Where("enabled = ?", *filter.Enabled)
	}

	targets := []models.WatchTarget{}
	if err := q.Find(&targets).Error; err != nil {
		return nil, translate(err, "list targets")
	}
	return targets, nil
}

func (s *Store) UpdateTarget(ctx context.Context, id uint, patch models.TargetPatch) (*models.WatchTarget, error) {
	var t models.WatchTarget
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Take(&t, id).Error; err != nil {
			return translate(err, "get target")
		}

		if patch.URL != nil {
			if err := ensureURLFree(tx, strings.TrimSpace(*patch.URL), id); err != nil {
				return err
			}
		}

		patch.Apply(&t)
		t.UpdatedAt = time.Now()

		if err := tx.Save(&t).Error; err != nil {
			return translate(err, "update target")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) DeleteTarget(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t models.WatchTarget
		if err := tx.Take(&t, id).Error; err != nil {
			return translate(err, "get target")
		}

		// sqlite only honours the FK cascade when foreign_keys is on
		if err := tx.Where("target_id = ?", id).Delete(&models.ContentCheck{}).Error; err != nil {
			return translate(err, "delete checks")
		}
		if err := tx.Delete(&t).Error; err != nil {
			return translate(err, "delete target")
		}
		return nil
	})
}

func (s *Store) AppendCheck(ctx context.Context, check *models.ContentCheck) error {
	if check.ID != 0 {
		return fmt.Errorf("gormstore: check %d already persisted", check.ID)
	}
	if check.CheckedAt.IsZero() {
		check.CheckedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(check).Error; err != nil {
		return translate(err, "append check")
	}
	return nil
}

func (s *Store) GetCheck(ctx context.Context, id uint) (*models.ContentCheck, error) {
	var c models.ContentCheck
	if err := s.db.WithContext(ctx).Take(&c, id).Error; err != nil {
		return nil, translate(err, "get check")
	}
	return &c, nil
}

func (s *Store) LatestCheck(ctx context.Context, targetID uint) (*models.ContentCheck, error) {
	var c models.ContentCheck
	err := s.db.WithContext(ctx).
		Where("target_id = ?", targetID).
		Order("checked_at DESC").
		Order("id DESC").
		Limit(1).
		Take(&c).Error
	if err != nil {
		return nil, translate(err, "latest check")
	}
	return &c, nil
}

func (s *Store) ListChecks(ctx context.Context, targetID uint, limit, offset int) ([]models.ContentCheck, error) {
	limit, offset = store.NormalizePage(limit, offset, store.DefaultChecksLimit)

	checks := []models.ContentCheck{}
	err := s.db.WithContext(ctx).
		Where("target_id = ?", targetID).
		Order("checked_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&checks).Error
	if err != nil {
		return nil, translate(err, "list checks")
	}
	return checks, nil
}

func (s *Store) ListChanges(ctx context.Context, limit int) ([]models.ContentCheck, error) {
	limit, _ = store.NormalizePage(limit, 0, store.DefaultChangesLimit)

	checks := []models.ContentCheck{}
	err := s.db.WithContext(ctx).
		Where("content_changed = ?", true).
		Order("checked_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&checks).Error
	if err != nil {
		return nil, translate(err, "list changes")
	}
	return checks, nil
}

func ensureURLFree(tx *gorm.DB, url string, exceptID uint) error {
	var count int64
	q := tx.Model(&models.WatchTarget{}).Where("url = ?", url)
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Count(&count).Error; err != nil {
		return translate(err, "check url")
	}
	if count > 0 {
		return store.ErrDuplicateURL
	}
	return nil
}

func translate(err error, op string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return store.ErrDuplicateURL
	default:
		return fmt.Errorf("gormstore: %s: %w", op, err)
	}
}
