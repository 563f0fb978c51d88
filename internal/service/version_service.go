package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/kestrel-research/rdm-api/internal/models"
	appErrors "github.com/kestrel-research/rdm-api/pkg/errors"
)

type versionStudyRepository interface {
	FindByID(ctx context.Context, id string) (*models.Study, error)
	CreateCheckpoint(ctx context.Context, studyID string, version *models.DataVersion) error
}

type versionCacheInvalidator interface {
	InvalidateStudy(ctx context.Context, studyID string) error
}

// VisibleVersions is the resolved window a query reads from: the ids of
// every checkpoint that participates in reconstruction, plus whether draft
// rows join in.
type VisibleVersions struct {
	VersionIDs   []string
	IncludeDraft bool
}

// VersionService resolves which slice of a study's append-only history a
// caller may read, and commits new checkpoints.
type VersionService struct {
	studies versionStudyRepository
	cache   versionCacheInvalidator
	logger  *zap.Logger
}

// NewVersionService constructs a VersionService.
func NewVersionService(studies versionStudyRepository, cache versionCacheInvalidator, logger *zap.Logger) *VersionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VersionService{studies: studies, cache: cache, logger: logger}
}

// GetStudy loads a study with its checkpoint history.
func (s *VersionService) GetStudy(ctx context.Context, studyID string) (*models.Study, error) {
	study, err := s.studies.FindByID(ctx, studyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "study not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load study")
	}
	return study, nil
}

// Resolve turns a version request into the set of visible checkpoints.
//
// Without an explicit version the caller reads the live state: every
// committed checkpoint plus draft rows. That view requires the versioned-data
// grant. With an explicit version the caller reads the study as it stood at
// that checkpoint: the prefix of history up to and including it, drafts
// excluded. Pinning a version requires the priority grant.
func (s *VersionService) Resolve(study *models.Study, requestedVersionID *string, hasVersioned, canPin bool) (*VisibleVersions, error) {
	if requestedVersionID == nil {
		if !hasVersioned {
			return nil, appErrors.Clone(appErrors.ErrDenied, "no role grants access to unversioned data")
		}
		committed := study.DataVersions[:study.CurrentDataVersion+1]
		ids := make([]string, 0, len(committed))
		for _, v := range committed {
			ids = append(ids, v.ID)
		}
		return &VisibleVersions{VersionIDs: ids, IncludeDraft: true}, nil
	}

	if !canPin {
		return nil, appErrors.Clone(appErrors.ErrDenied, "no role grants pinning a data version")
	}
	idx := study.VersionIndex(*requestedVersionID)
	if idx < 0 {
		return nil, appErrors.ErrUnknownVersion
	}
	ids := make([]string, 0, idx+1)
	for _, v := range study.DataVersions[:idx+1] {
		ids = append(ids, v.ID)
	}
	return &VisibleVersions{VersionIDs: ids, IncludeDraft: false}, nil
}

// CreateCheckpoint commits the current drafts as a new immutable version and
// retires cached results that were computed against the draft view.
func (s *VersionService) CreateCheckpoint(ctx context.Context, studyID string, version, contentID string, tag *string) (*models.DataVersion, error) {
	checkpoint := &models.DataVersion{Version: version, ContentID: contentID, Tag: tag}
	if err := s.studies.CreateCheckpoint(ctx, studyID, checkpoint); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "study not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create checkpoint")
	}

	if s.cache != nil {
		if err := s.cache.InvalidateStudy(ctx, studyID); err != nil {
			s.logger.Warn("failed to invalidate cached results after checkpoint",
				zap.String("study_id", studyID), zap.Error(err))
		}
	}
	return checkpoint, nil
}
