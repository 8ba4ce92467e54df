// Package store defines the record store shared by the checker and web processes.
package store

import (
	"context"
	"errors"

	"github.com/ArCaneSec/watcher/internal/models"
)

var (
	// ErrNotFound is returned when a target or check does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateURL is returned when a target with the same url already exists.
	ErrDuplicateURL = errors.New("url already exists")
)

const (
	DefaultChecksLimit  = 100
	DefaultChangesLimit = 50
)

type TargetFilter struct {
	Enabled *bool
}

// Store is the durable history of targets and their checks.
// Checks are append-only; "latest" is ordered by checked_at then id, both descending.
type Store interface {
	CreateTarget(ctx context.Context, target *models.WatchTarget) error
	GetTarget(ctx context.Context, id uint) (*models.WatchTarget, error)
	ListTargets(ctx context.Context, filter TargetFilter) ([]models.WatchTarget, error)
	UpdateTarget(ctx context.Context, id uint, patch models.TargetPatch) (*models.WatchTarget, error)
	DeleteTarget(ctx context.Context, id uint) error

	AppendCheck(ctx context.Context, check *models.ContentCheck) error
	GetCheck(ctx context.Context, id uint) (*models.ContentCheck, error)
	LatestCheck(ctx context.Context, targetID uint) (*models.ContentCheck, error)
	ListChecks(ctx context.Context, targetID uint, limit, offset int) ([]models.ContentCheck, error)
	ListChanges(ctx context.Context, limit int) ([]models.ContentCheck, error)

	Close() error
}

// Admin is implemented by stores that manage their own schema.
type Admin interface {
	Migrate(ctx context.Context) error
	Flush(ctx context.Context) error
}

func EnabledOnly() TargetFilter {
	enabled := true
	return TargetFilter{Enabled: &enabled}
}

// NormalizePage clamps paging arguments to sane values.
func NormalizePage(limit, offset, fallback int) (int, int) {
	if limit <= 0 {
		limit = fallback
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
