package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/filedepot/filedepot/internal/chunk"
	"github.com/filedepot/filedepot/internal/storage"
)

// Janitor defaults.
const (
	DefaultSweepInterval = 10 * time.Minute
	DefaultUploadExpiry  = 24 * time.Hour
)

// Janitor reclaims abandoned uploads and idle sessions in the
// background. An upload abandoned before finalize holds a quota
// reservation and chunk blobs forever; the janitor deletes Pending
// files older than the upload expiry through the same purge path a
// user-initiated delete takes.
type Janitor struct {
	svc          *Service
	interval     time.Duration
	uploadExpiry time.Duration
}

// NewJanitor creates a janitor over the service's backends.
// Non-positive durations fall back to the defaults.
func NewJanitor(svc *Service, interval, uploadExpiry time.Duration) *Janitor {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if uploadExpiry <= 0 {
		uploadExpiry = DefaultUploadExpiry
	}
	return &Janitor{svc: svc, interval: interval, uploadExpiry: uploadExpiry}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", j.interval).Dur("upload_expiry", j.uploadExpiry).
		Msg("janitor started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("janitor stopped")
			return
		case <-ticker.C:
			j.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs one reclamation pass and reports how many abandoned
// uploads and idle sessions were removed.
func (j *Janitor) SweepOnce(ctx context.Context) (uploads, sessions int) {
	cutoff := time.Now().Add(-j.uploadExpiry)

	stale, err := j.svc.store.PendingFilesOlderThan(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("janitor could not list pending uploads")
	}
	for _, f := range stale {
		expired, err := j.expire(ctx, f.ID, cutoff)
		if err != nil {
			log.Warn().Err(err).Str("file", f.ID).Msg("janitor could not expire upload")
			continue
		}
		if expired {
			uploads++
		}
	}

	purged, err := j.svc.sessions.PurgeIdleSessions(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("janitor could not purge idle sessions")
	}
	sessions = purged

	if uploads > 0 || sessions > 0 {
		log.Info().Int("uploads", uploads).Int("sessions", sessions).
			Msg("janitor reclaimed abandoned state")
	}

	GetMetrics().RecordSweep(uploads, sessions)
	j.updateGauges(ctx)
	return uploads, sessions
}

// expire deletes one abandoned upload. The record is re-read under the
// file's exclusive lock: an upload finalized after the listing, or one
// already deleted by its owner, is left alone.
func (j *Janitor) expire(ctx context.Context, fileID string, cutoff time.Time) (bool, error) {
	unlock := j.svc.locks.Lock(fileID)
	defer unlock()

	f, err := j.svc.store.FileByID(ctx, fileID)
	if errors.Is(err, storage.ErrFileNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if f.Status != storage.FilePending || !f.CreatedAt.Before(cutoff) {
		return false, nil
	}

	if err := j.svc.purge(ctx, f); err != nil {
		return false, err
	}

	log.Info().Str("file", f.ID).Str("owner", f.OwnerID).Int64("size", f.TotalSize).
		Time("created", f.CreatedAt).Msg("expired abandoned upload")
	return true, nil
}

func (j *Janitor) updateGauges(ctx context.Context) {
	pending, err := j.svc.store.CountFilesByStatus(ctx, storage.FilePending)
	if err != nil {
		return
	}
	complete, err := j.svc.store.CountFilesByStatus(ctx, storage.FileComplete)
	if err != nil {
		return
	}
	GetMetrics().UpdateFileCounts(pending, complete)

	if vr, ok := j.svc.chunks.(chunk.VolumeReporter); ok {
		if info, err := vr.Volume(); err == nil {
			GetMetrics().UpdateVolume(info.TotalBytes, info.UsedBytes, info.AvailableBytes)
		}
	}
}
