// Package transfer implements the upload and download orchestrator: the
// operations layer that assembles files from independently submitted
// chunks, decides completeness, enforces quotas, and authorizes
// retrieval via session or share tokens.
package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/filedepot/filedepot/internal/auth"
	"github.com/filedepot/filedepot/internal/chunk"
	"github.com/filedepot/filedepot/internal/storage"
)

// ErrChunkOutOfRange is returned when a chunk index falls outside the
// range declared at upload init.
var ErrChunkOutOfRange = errors.New("chunk index out of range")

// ErrInvalidRequest wraps rejections of malformed operation inputs, as
// opposed to failures of authorization or state.
var ErrInvalidRequest = errors.New("invalid request")

// DefaultMimeType is recorded for uploads that declare no media type.
const DefaultMimeType = "application/octet-stream"

// Service composes the session store, file registry, chunk store, and
// quota ledger under the role and ownership rules. One instance serves
// all requests; a keyed lock set serializes the per-file sequences that
// must not interleave.
type Service struct {
	store    storage.Store
	chunks   chunk.Store
	sessions *auth.Manager
	locks    *fileLocks
}

// New creates the orchestrator on top of the given backends.
func New(store storage.Store, chunks chunk.Store, sessions *auth.Manager) *Service {
	return &Service{
		store:    store,
		chunks:   chunks,
		sessions: sessions,
		locks:    newFileLocks(),
	}
}

// InitUploadRequest declares a new upload. TotalSize and TotalChunks are
// client-declared; the size is reserved against the owner's quota before
// any chunk is accepted.
type InitUploadRequest struct {
	Filename    string
	MimeType    string
	TotalSize   int64
	TotalChunks int
}

func (r *InitUploadRequest) validate() error {
	if r.Filename == "" {
		return fmt.Errorf("%w: filename required", ErrInvalidRequest)
	}
	if r.TotalSize < 0 {
		return fmt.Errorf("%w: total size must not be negative", ErrInvalidRequest)
	}
	if r.TotalChunks < 0 {
		return fmt.Errorf("%w: total chunks must not be negative", ErrInvalidRequest)
	}
	if r.TotalChunks == 0 && r.TotalSize != 0 {
		return fmt.Errorf("%w: a non-empty file needs at least one chunk", ErrInvalidRequest)
	}
	return nil
}

// InitUpload reserves quota for the declared size and creates a Pending
// file record owned by the caller. The reservation is atomic against
// concurrent inits: two uploads cannot jointly pass the quota check.
func (s *Service) InitUpload(ctx context.Context, token string, req InitUploadRequest) (*storage.File, error) {
	ident, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	mime := req.MimeType
	if mime == "" {
		mime = DefaultMimeType
	}

	if err := s.store.ReserveQuota(ctx, ident.ID, req.TotalSize); err != nil {
		return nil, fmt.Errorf("reserve quota: %w", err)
	}

	f := &storage.File{
		ID:          uuid.NewString(),
		OwnerID:     ident.ID,
		Filename:    req.Filename,
		MimeType:    mime,
		TotalSize:   req.TotalSize,
		TotalChunks: req.TotalChunks,
		Status:      storage.FilePending,
	}
	if err := s.store.CreateFile(ctx, f); err != nil {
		// Undo the reservation so the failed init does not eat quota.
		if relErr := s.store.ReleaseReserved(ctx, ident.ID, req.TotalSize); relErr != nil {
			log.Error().Err(relErr).Str("user", ident.ID).Int64("bytes", req.TotalSize).
				Msg("failed to release reservation after create failure")
		}
		return nil, fmt.Errorf("create file record: %w", err)
	}

	log.Info().Str("file", f.ID).Str("owner", ident.ID).Str("filename", f.Filename).
		Int64("size", f.TotalSize).Int("chunks", f.TotalChunks).Msg("upload initialized")
	return f, nil
}

// UploadChunk stores one chunk and returns how many distinct indexes are
// now present. The put is an upsert: retransmitting an index replaces the
// previous data and does not inflate the count. Chunks on the same file
// may be uploaded concurrently; the count is recomputed by scanning on
// every call.
func (s *Service) UploadChunk(ctx context.Context, token, fileID string, index int, data []byte) (int, error) {
	ident, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return 0, err
	}

	unlock := s.locks.RLock(fileID)
	defer unlock()

	f, err := s.store.FileByID(ctx, fileID)
	if err != nil {
		return 0, err
	}
	if !auth.CanAccessFile(ident, f.OwnerID) {
		return 0, auth.ErrUnauthorized
	}
	if index < 0 || index >= f.TotalChunks {
		return 0, fmt.Errorf("index %d with %d declared chunks: %w", index, f.TotalChunks, ErrChunkOutOfRange)
	}

	if err := s.chunks.Put(ctx, fileID, index, data); err != nil {
		return 0, fmt.Errorf("store chunk %d: %w", index, err)
	}

	n, err := s.chunks.Count(ctx, fileID)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}

	GetMetrics().RecordUpload(int64(len(data)))
	log.Debug().Str("file", fileID).Int("index", index).Int("bytes", len(data)).
		Int("present", n).Msg("chunk stored")
	return n, nil
}

// FinalizeUpload verifies every declared chunk is present, transitions
// the file to Complete, and converts the quota reservation into usage.
// Finalizing a file that is already Complete is a no-op so client
// retries cannot credit the ledger twice. A file declared with zero
// chunks is vacuously complete.
func (s *Service) FinalizeUpload(ctx context.Context, token, fileID string) error {
	ident, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(fileID)
	defer unlock()

	f, err := s.store.FileByID(ctx, fileID)
	if err != nil {
		return err
	}
	if !auth.CanAccessFile(ident, f.OwnerID) {
		return auth.ErrUnauthorized
	}
	if f.Status == storage.FileComplete {
		return nil
	}

	if err := chunk.CheckComplete(ctx, s.chunks, fileID, f.TotalChunks); err != nil {
		return err
	}

	if err := s.store.MarkFileComplete(ctx, fileID); err != nil {
		return fmt.Errorf("mark complete: %w", err)
	}
	if err := s.store.CommitReserved(ctx, f.OwnerID, f.TotalSize); err != nil {
		// The file is Complete but the ledger still carries the bytes as
		// reserved. There is no un-complete transition, so surface the
		// error loudly rather than retrying half the sequence.
		log.Error().Err(err).Str("file", fileID).Str("owner", f.OwnerID).
			Int64("bytes", f.TotalSize).Msg("ledger commit failed after finalize")
		return fmt.Errorf("commit reserved bytes: %w", err)
	}

	log.Info().Str("file", fileID).Str("owner", f.OwnerID).Int64("size", f.TotalSize).
		Int("chunks", f.TotalChunks).Msg("upload finalized")
	return nil
}

// DownloadResult is a fully assembled file.
type DownloadResult struct {
	Data     []byte
	Filename string
	MimeType string
}

// Download assembles the whole file in chunk-index order. Access is
// granted either by a share token bound to this exact file or by a
// session whose user owns the file or holds an elevated role. Assembly
// mutates nothing; the shared lock only keeps deletion from removing
// chunks mid-read.
func (s *Service) Download(ctx context.Context, fileID, sessionToken, shareToken string) (*DownloadResult, error) {
	unlock := s.locks.RLock(fileID)
	defer unlock()

	f, err := s.authorizeFile(ctx, fileID, sessionToken, shareToken)
	if err != nil {
		return nil, err
	}

	data, err := chunk.Assemble(ctx, s.chunks, fileID, f.TotalChunks)
	if err != nil {
		return nil, err
	}

	GetMetrics().RecordDownload(int64(len(data)))
	log.Info().Str("file", fileID).Int("bytes", len(data)).Msg("file downloaded")
	return &DownloadResult{Data: data, Filename: f.Filename, MimeType: f.MimeType}, nil
}

// FileInfo returns the file's metadata under the same access rule as
// Download. Clients call it once, then fetch chunks by index.
func (s *Service) FileInfo(ctx context.Context, fileID, sessionToken, shareToken string) (*storage.File, error) {
	unlock := s.locks.RLock(fileID)
	defer unlock()

	return s.authorizeFile(ctx, fileID, sessionToken, shareToken)
}

// DownloadChunk returns a single chunk by index under the same access
// rule as Download. This is the bounded-size retrieval path: a client
// downloads FileInfo once, then chunks 0..TotalChunks-1 in any order.
func (s *Service) DownloadChunk(ctx context.Context, fileID string, index int, sessionToken, shareToken string) ([]byte, error) {
	unlock := s.locks.RLock(fileID)
	defer unlock()

	f, err := s.authorizeFile(ctx, fileID, sessionToken, shareToken)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= f.TotalChunks {
		return nil, fmt.Errorf("index %d with %d declared chunks: %w", index, f.TotalChunks, ErrChunkOutOfRange)
	}

	data, err := s.chunks.Get(ctx, fileID, index)
	if err != nil {
		return nil, err
	}

	GetMetrics().RecordDownload(int64(len(data)))
	log.Debug().Str("file", fileID).Int("index", index).Int("bytes", len(data)).Msg("chunk downloaded")
	return data, nil
}

// Delete removes the file's chunks and record and returns its bytes to
// the owner's quota. A Pending file releases its reservation; a Complete
// file releases usage. Deleting an already removed file fails with
// ErrFileNotFound.
func (s *Service) Delete(ctx context.Context, token, fileID string) error {
	ident, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(fileID)
	defer unlock()

	f, err := s.store.FileByID(ctx, fileID)
	if err != nil {
		return err
	}
	if !auth.CanAccessFile(ident, f.OwnerID) {
		return auth.ErrUnauthorized
	}

	if err := s.purge(ctx, f); err != nil {
		return err
	}

	log.Info().Str("file", fileID).Str("owner", f.OwnerID).Str("user", ident.ID).
		Int64("size", f.TotalSize).Msg("file deleted")
	return nil
}

// purge removes chunks, record, and ledger bytes for a file. The caller
// must hold the file's exclusive lock. User deletes and janitor expiry
// both run through here so there is exactly one bookkeeping scheme.
func (s *Service) purge(ctx context.Context, f *storage.File) error {
	if err := s.chunks.DeleteAll(ctx, f.ID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := s.store.DeleteFile(ctx, f.ID); err != nil {
		return err
	}

	// Record first, ledger second: a failure here over-counts usage,
	// which is the safe direction, and is visible in the stats.
	release := s.store.ReleaseReserved
	if f.Status == storage.FileComplete {
		release = s.store.ReleaseUsed
	}
	if err := release(ctx, f.OwnerID, f.TotalSize); err != nil {
		log.Error().Err(err).Str("file", f.ID).Str("owner", f.OwnerID).
			Int64("bytes", f.TotalSize).Str("status", string(f.Status)).
			Msg("ledger release failed after delete")
		return fmt.Errorf("release quota: %w", err)
	}
	return nil
}

// ShareLink returns the file's share token, generating one on first
// request and reusing it afterwards. The token grants download access to
// this file only and dies with the file.
func (s *Service) ShareLink(ctx context.Context, token, fileID string) (string, error) {
	ident, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return "", err
	}

	unlock := s.locks.Lock(fileID)
	defer unlock()

	f, err := s.store.FileByID(ctx, fileID)
	if err != nil {
		return "", err
	}
	if !auth.CanAccessFile(ident, f.OwnerID) {
		return "", auth.ErrUnauthorized
	}
	if f.ShareToken != "" {
		return f.ShareToken, nil
	}

	shareToken, err := auth.NewToken()
	if err != nil {
		return "", fmt.Errorf("generate share token: %w", err)
	}
	if err := s.store.SetFileShareToken(ctx, fileID, shareToken); err != nil {
		return "", fmt.Errorf("store share token: %w", err)
	}

	log.Info().Str("file", fileID).Str("owner", f.OwnerID).Msg("share link generated")
	return shareToken, nil
}

// StorageStats reports a user's quota ledger. Everyone may read their
// own; reading another account requires an elevated role.
type StorageStats struct {
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	GBAllocation   int    `json:"gb_allocation"`
	QuotaBytes     int64  `json:"quota_bytes"`
	UsedBytes      int64  `json:"used_bytes"`
	ReservedBytes  int64  `json:"reserved_bytes"`
	AvailableBytes int64  `json:"available_bytes"`
}

// StorageStats returns the quota ledger for userID, or for the caller
// when userID is empty.
func (s *Service) StorageStats(ctx context.Context, token, userID string) (*StorageStats, error) {
	ident, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		userID = ident.ID
	}
	if !auth.CanViewStats(ident, userID) {
		return nil, auth.ErrUnauthorized
	}

	u, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &StorageStats{
		UserID:         u.ID,
		Username:       u.Username,
		GBAllocation:   u.GBAllocation,
		QuotaBytes:     u.QuotaBytes,
		UsedBytes:      u.UsedBytes,
		ReservedBytes:  u.ReservedBytes,
		AvailableBytes: u.AvailableBytes(),
	}, nil
}

// SystemStats is a depot-wide view of accounts, files, and the ledger.
// Volume is present only when the chunk backend lives on a local
// filesystem it can report on.
type SystemStats struct {
	Users         int               `json:"users"`
	PendingFiles  int               `json:"pending_files"`
	CompleteFiles int               `json:"complete_files"`
	QuotaBytes    int64             `json:"quota_bytes"`
	UsedBytes     int64             `json:"used_bytes"`
	ReservedBytes int64             `json:"reserved_bytes"`
	Volume        *chunk.VolumeInfo `json:"volume,omitempty"`
}

// SystemStats aggregates the quota ledger across every account plus file
// counts and chunk volume capacity. Requires a role that may view any
// user's stats.
func (s *Service) SystemStats(ctx context.Context, token string) (*SystemStats, error) {
	ident, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if !auth.Can(ident.Role, auth.CapAnyStats) {
		return nil, auth.ErrUnauthorized
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := s.store.CountFilesByStatus(ctx, storage.FilePending)
	if err != nil {
		return nil, err
	}
	complete, err := s.store.CountFilesByStatus(ctx, storage.FileComplete)
	if err != nil {
		return nil, err
	}

	stats := &SystemStats{
		Users:         len(users),
		PendingFiles:  pending,
		CompleteFiles: complete,
	}
	for _, u := range users {
		stats.QuotaBytes += u.QuotaBytes
		stats.UsedBytes += u.UsedBytes
		stats.ReservedBytes += u.ReservedBytes
	}

	if vr, ok := s.chunks.(chunk.VolumeReporter); ok {
		if info, err := vr.Volume(); err == nil {
			stats.Volume = &info
		}
	}

	return stats, nil
}

// ListFiles returns the files owned by userID, newest first, or the
// caller's own files when userID is empty. Listing another user's files
// requires an elevated role.
func (s *Service) ListFiles(ctx context.Context, token, userID string) ([]*storage.File, error) {
	ident, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		userID = ident.ID
	}
	if !auth.CanAccessFile(ident, userID) {
		return nil, auth.ErrUnauthorized
	}
	return s.store.FilesByOwner(ctx, userID)
}

// AddUser creates an account with the given role and allocation. Only
// callers holding the user-management capability may do this, and the
// master role cannot be handed out.
func (s *Service) AddUser(ctx context.Context, token, username, password string, role storage.Role, gb int) (*storage.User, error) {
	ident, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if !auth.CanManageUsers(ident) {
		return nil, auth.ErrUnauthorized
	}
	return s.sessions.CreateUser(ctx, username, password, role, gb)
}

// ListUsers returns every account. Requires the user-management
// capability.
func (s *Service) ListUsers(ctx context.Context, token string) ([]*storage.User, error) {
	ident, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if !auth.CanManageUsers(ident) {
		return nil, auth.ErrUnauthorized
	}
	return s.store.ListUsers(ctx)
}

// SetAllocation changes a user's storage allocation in whole gigabytes.
// Shrinking below current usage is allowed; the account is over quota
// until files are deleted. Requires the user-management capability.
func (s *Service) SetAllocation(ctx context.Context, token, userID string, gb int) error {
	ident, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return err
	}
	if !auth.CanManageUsers(ident) {
		return auth.ErrUnauthorized
	}
	if gb < 0 {
		return fmt.Errorf("%w: allocation must not be negative", ErrInvalidRequest)
	}
	if err := s.store.SetUserAllocation(ctx, userID, gb); err != nil {
		return err
	}
	log.Info().Str("user", userID).Int("gb", gb).Msg("allocation updated")
	return nil
}

// RemoveUser deletes an account, its files, and their chunks. The master
// account is never deletable. Requires the user-management capability.
func (s *Service) RemoveUser(ctx context.Context, token, userID string) error {
	ident, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return err
	}
	if !auth.CanManageUsers(ident) {
		return auth.ErrUnauthorized
	}
	return s.PurgeUser(ctx, userID)
}

// PurgeUser deletes an account, its files, and their chunks without a
// session check. It backs RemoveUser and the operator CLI. The master
// account is never deletable.
func (s *Service) PurgeUser(ctx context.Context, userID string) error {
	// Look the user up first so chunk blobs are not orphaned when the
	// record delete below cascades the file rows away.
	u, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.Role == storage.RoleMaster {
		return storage.ErrMasterProtected
	}

	files, err := s.store.FilesByOwner(ctx, userID)
	if err != nil {
		return err
	}
	for _, f := range files {
		unlock := s.locks.Lock(f.ID)
		if err := s.chunks.DeleteAll(ctx, f.ID); err != nil {
			unlock()
			return fmt.Errorf("delete chunks of %s: %w", f.ID, err)
		}
		unlock()
	}

	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return err
	}

	log.Info().Str("user", userID).Str("username", u.Username).
		Int("files", len(files)).Msg("user removed")
	return nil
}

// authorizeFile loads the file record and applies the download access
// rule: a share token matching this exact file grants access with no
// session at all; otherwise the session must resolve to the owner or an
// elevated role. A share token for some other file falls through to the
// session check rather than failing outright.
func (s *Service) authorizeFile(ctx context.Context, fileID, sessionToken, shareToken string) (*storage.File, error) {
	f, err := s.store.FileByID(ctx, fileID)
	if err != nil {
		return nil, err
	}

	if shareToken != "" && f.ShareToken != "" && f.ShareToken == shareToken {
		return f, nil
	}

	if sessionToken == "" {
		return nil, auth.ErrUnauthorized
	}
	ident, err := s.sessions.Resolve(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	if !auth.CanAccessFile(ident, f.OwnerID) {
		return nil, auth.ErrUnauthorized
	}
	return f, nil
}
