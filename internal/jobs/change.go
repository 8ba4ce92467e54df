package jobs

import (
	"context"
	"errors"

	"github.com/ArCaneSec/watcher/internal/models"
	"github.com/ArCaneSec/watcher/internal/store"
)

// DetectChange reports whether fp differs from the fingerprint of the
// target's latest stored check. It must run before the new check is appended.
func DetectChange(ctx context.Context, s store.Store, targetID uint, fp string) (bool, error) {
	prior, err := s.LatestCheck(ctx, targetID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fingerprintChanged(prior, fp), nil
}

// no prior fingerprint is a baseline, not a change
func fingerprintChanged(prior *models.ContentCheck, fp string) bool {
	if prior == nil || !prior.HasFingerprint() {
		return false
	}
	return *prior.ContentHash != fp
}
