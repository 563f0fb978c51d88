package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/kestrel-research/rdm-api/internal/formula"
	"github.com/kestrel-research/rdm-api/internal/models"
	"github.com/kestrel-research/rdm-api/internal/transform"
	appErrors "github.com/kestrel-research/rdm-api/pkg/errors"
)

type queryDataRowRepository interface {
	ListByStudy(ctx context.Context, studyID string, versionIDs []string, includeDraft bool, fieldIDs []string) ([]models.DataRow, error)
	Append(ctx context.Context, rows []models.DataRow) error
}

type queryFieldRepository interface {
	ListByStudy(ctx context.Context, studyID string, versionIDs []string, includeDraft bool) ([]models.Field, error)
	Append(ctx context.Context, field *models.Field) error
}

type queryPermissionResolver interface {
	Resolve(ctx context.Context, user *models.User, studyID string, projectID *string, op models.Operation) (*CombinedPermission, error)
}

type queryVersionResolver interface {
	GetStudy(ctx context.Context, studyID string) (*models.Study, error)
	Resolve(study *models.Study, requestedVersionID *string, hasVersioned, canPin bool) (*VisibleVersions, error)
}

type queryResultCache interface {
	GetOrCompute(ctx context.Context, shape QueryShape, force bool, compute func(ctx context.Context) (interface{}, error)) (json.RawMessage, bool, error)
	InvalidateStudy(ctx context.Context, studyID string) error
}

// QueryRequest describes one data query.
type QueryRequest struct {
	ProjectID   *string                     `json:"project_id"`
	VersionID   *string                     `json:"version_id"`
	FieldIDs    []string                    `json:"field_ids"`
	Aggregation map[string][]transform.Spec `json:"aggregation"`
	Force       bool                        `json:"force"`
}

// WriteEntry is one data point to append.
type WriteEntry struct {
	SubjectID string      `json:"subject_id" validate:"required"`
	VisitID   string      `json:"visit_id" validate:"required"`
	FieldID   string      `json:"field_id" validate:"required"`
	Value     interface{} `json:"value"`
}

// WriteRequest appends data points to a study's draft state.
type WriteRequest struct {
	ProjectID *string      `json:"project_id"`
	Entries   []WriteEntry `json:"entries" validate:"required,min=1,dive"`
}

// FieldEntry is one field definition to append to the dictionary.
type FieldEntry struct {
	FieldID            string                `json:"field_id" validate:"required"`
	FieldName          string                `json:"field_name" validate:"required"`
	DataType           string                `json:"data_type" validate:"required"`
	CategoricalOptions []string              `json:"categorical_options"`
	Verifiers          models.FieldVerifiers `json:"verifiers"`
	Properties         interface{}           `json:"properties"`
}

// WriteFieldsRequest appends field definitions to a study's draft state.
type WriteFieldsRequest struct {
	ProjectID *string      `json:"project_id"`
	Entries   []FieldEntry `json:"entries" validate:"required,min=1,dive"`
}

// DeleteEntry addresses one data point to tombstone.
type DeleteEntry struct {
	SubjectID string `json:"subject_id" validate:"required"`
	VisitID   string `json:"visit_id" validate:"required"`
	FieldID   string `json:"field_id" validate:"required"`
}

// DeleteRequest tombstones data points in a study's draft state.
type DeleteRequest struct {
	ProjectID *string       `json:"project_id"`
	Entries   []DeleteEntry `json:"entries" validate:"required,min=1,dive"`
}

type queryMetrics interface {
	ObserveReducedRows(n int)
}

// QueryService orchestrates a data query end to end: permission resolution,
// version resolution, log reduction, the transformation pipeline and the
// result cache.
type QueryService struct {
	permissions queryPermissionResolver
	versions    queryVersionResolver
	dataRows    queryDataRowRepository
	fields      queryFieldRepository
	cache       queryResultCache
	metrics     queryMetrics
	logger      *zap.Logger

	// fieldTermLimit caps the request field selector; zero means unbounded.
	fieldTermLimit int
}

// NewQueryService constructs a QueryService.
func NewQueryService(permissions queryPermissionResolver, versions queryVersionResolver, dataRows queryDataRowRepository, fields queryFieldRepository, cache queryResultCache, logger *zap.Logger) *QueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryService{
		permissions: permissions,
		versions:    versions,
		dataRows:    dataRows,
		fields:      fields,
		cache:       cache,
		logger:      logger,
	}
}

// SetMetrics attaches instrumentation.
func (s *QueryService) SetMetrics(m queryMetrics) {
	s.metrics = m
}

// SetFieldTermLimit caps how many field ids one query may select.
func (s *QueryService) SetFieldTermLimit(n int) {
	s.fieldTermLimit = n
}

func isDenied(err error) bool {
	e := appErrors.FromError(err)
	return e != nil && e.Code == appErrors.ErrDenied.Code
}

// GetData resolves and returns the study data visible to the caller,
// optionally transformed by an aggregation. The second return value reports
// whether the result came out of the cache.
func (s *QueryService) GetData(ctx context.Context, user *models.User, studyID string, req QueryRequest) (json.RawMessage, bool, error) {
	if s.fieldTermLimit > 0 && len(req.FieldIDs) > s.fieldTermLimit {
		return nil, false, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("field selector exceeds the %d-term limit", s.fieldTermLimit))
	}

	perm, err := s.permissions.Resolve(ctx, user, studyID, req.ProjectID, models.OperationRead)
	if err != nil {
		return nil, false, err
	}

	canPin, err := s.canPin(ctx, user, studyID, req)
	if err != nil {
		return nil, false, err
	}

	study, err := s.versions.GetStudy(ctx, studyID)
	if err != nil {
		return nil, false, err
	}
	visible, err := s.versions.Resolve(study, req.VersionID, perm.HasVersioned, canPin)
	if err != nil {
		return nil, false, err
	}

	agg, err := transform.BuildAggregation(req.Aggregation)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}

	shape := s.shape(studyID, req, perm, visible)
	compute := func(ctx context.Context) (interface{}, error) {
		return s.compute(ctx, studyID, req, perm, visible, agg)
	}
	return s.cache.GetOrCompute(ctx, shape, req.Force, compute)
}

// canPin checks the priority grant, but only when the request actually pins
// a version; a missing grant is only an error in that case.
func (s *QueryService) canPin(ctx context.Context, user *models.User, studyID string, req QueryRequest) (bool, error) {
	if req.VersionID == nil {
		return false, nil
	}
	if _, err := s.permissions.Resolve(ctx, user, studyID, req.ProjectID, models.OperationPriority); err != nil {
		if isDenied(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *QueryService) shape(studyID string, req QueryRequest, perm *CombinedPermission, visible *VisibleVersions) QueryShape {
	var aggRaw json.RawMessage
	if len(req.Aggregation) > 0 {
		aggRaw, _ = json.Marshal(req.Aggregation)
	}
	return QueryShape{
		StudyID:         studyID,
		ProjectID:       req.ProjectID,
		VersionID:       req.VersionID,
		IncludeDraft:    visible.IncludeDraft,
		VersionIDs:      visible.VersionIDs,
		SubjectPatterns: perm.SubjectPatterns,
		VisitPatterns:   perm.VisitPatterns,
		FieldPatterns:   perm.FieldPatterns,
		Uploaders:       perm.Uploaders,
		FieldIDs:        req.FieldIDs,
		Aggregation:     aggRaw,
	}
}

func (s *QueryService) compute(ctx context.Context, studyID string, req QueryRequest, perm *CombinedPermission, visible *VisibleVersions, agg transform.Aggregation) (interface{}, error) {
	rows, err := s.dataRows.ListByStudy(ctx, studyID, visible.VersionIDs, visible.IncludeDraft, req.FieldIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load data rows")
	}

	filtered := rows[:0:0]
	for _, row := range rows {
		if perm.CoversEntry(row.SubjectID, row.VisitID, row.FieldID) && perm.CoversUploader(row.UploaderID) {
			filtered = append(filtered, row)
		}
	}

	reduced := transform.Reduce(filtered, transform.EntryKey, false)
	if s.metrics != nil {
		s.metrics.ObserveReducedRows(len(reduced))
	}
	dataset := transform.NewFlat(rowsToRecords(reduced))

	if len(agg) == 0 {
		return dataset, nil
	}
	results, err := agg.Run(dataset)
	if err != nil {
		return nil, err
	}
	return results, nil
}

func rowsToRecords(rows []models.DataRow) []transform.Record {
	records := make([]transform.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, transform.Record{
			"subject_id":  row.SubjectID,
			"visit_id":    row.VisitID,
			"field_id":    row.FieldID,
			"value":       row.Value.V,
			"version_id":  row.VersionID,
			"uploader_id": row.UploaderID,
			"created_at":  row.CreatedAt,
		})
	}
	return records
}

// GetFields returns the field dictionary entries the caller may see, at the
// requested version. Only the field dimension of the permission applies.
func (s *QueryService) GetFields(ctx context.Context, user *models.User, studyID string, projectID, versionID *string) ([]models.Field, error) {
	perm, err := s.permissions.Resolve(ctx, user, studyID, projectID, models.OperationRead)
	if err != nil {
		return nil, err
	}
	canPin, err := s.canPin(ctx, user, studyID, QueryRequest{ProjectID: projectID, VersionID: versionID})
	if err != nil {
		return nil, err
	}

	study, err := s.versions.GetStudy(ctx, studyID)
	if err != nil {
		return nil, err
	}
	visible, err := s.versions.Resolve(study, versionID, perm.HasVersioned, canPin)
	if err != nil {
		return nil, err
	}

	fields, err := s.fields.ListByStudy(ctx, studyID, visible.VersionIDs, visible.IncludeDraft)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fields")
	}

	covered := fields[:0:0]
	for _, field := range fields {
		if perm.CoversField(field.FieldID) {
			covered = append(covered, field)
		}
	}
	return transform.ReduceFields(covered, false), nil
}

// WriteFields appends field definitions as drafts. Every entry must fall
// inside the caller's write permission, and any regex verifier patterns must
// compile so they never fail on someone else's write.
func (s *QueryService) WriteFields(ctx context.Context, user *models.User, studyID string, req WriteFieldsRequest) error {
	perm, err := s.permissions.Resolve(ctx, user, studyID, req.ProjectID, models.OperationWrite)
	if err != nil {
		return err
	}

	for _, entry := range req.Entries {
		if !perm.CoversField(entry.FieldID) {
			return appErrors.Clone(appErrors.ErrDenied,
				fmt.Sprintf("no role covers defining field %s", entry.FieldID))
		}
		if err := validVerifiers(entry.Verifiers); err != nil {
			return err
		}
	}

	for _, entry := range req.Entries {
		field := &models.Field{
			StudyID:            studyID,
			FieldID:            entry.FieldID,
			FieldName:          entry.FieldName,
			DataType:           entry.DataType,
			CategoricalOptions: pq.StringArray(entry.CategoricalOptions),
			Verifiers:          entry.Verifiers,
			Properties:         models.JSONValue{V: entry.Properties},
		}
		if err := s.fields.Append(ctx, field); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append field")
		}
	}
	return nil
}

func validVerifiers(groups models.FieldVerifiers) error {
	for _, group := range groups {
		for _, verifier := range group {
			if verifier.Condition != formula.ConditionRegex {
				continue
			}
			pattern := formula.ToString(verifier.Value)
			if _, err := regexp.Compile(pattern); err != nil {
				return appErrors.Wrap(err, appErrors.ErrBadPattern.Code, appErrors.ErrBadPattern.Status,
					fmt.Sprintf("verifier pattern %q does not compile", pattern))
			}
		}
	}
	return nil
}

// WriteData appends new data points as drafts. Every entry must fall inside
// the caller's write permission and pass the field's verifiers.
func (s *QueryService) WriteData(ctx context.Context, user *models.User, studyID string, req WriteRequest) error {
	perm, err := s.permissions.Resolve(ctx, user, studyID, req.ProjectID, models.OperationWrite)
	if err != nil {
		return err
	}

	fields, err := s.draftFields(ctx, studyID)
	if err != nil {
		return err
	}

	rows := make([]models.DataRow, 0, len(req.Entries))
	for _, entry := range req.Entries {
		if !perm.CoversEntry(entry.SubjectID, entry.VisitID, entry.FieldID) {
			return appErrors.Clone(appErrors.ErrDenied,
				fmt.Sprintf("no role covers writing %s/%s/%s", entry.SubjectID, entry.VisitID, entry.FieldID))
		}
		if field, ok := fields[entry.FieldID]; ok && len(field.Verifiers) > 0 {
			ok, err := formula.Pass(field.Verifiers, entry.Value)
			if err != nil {
				return err
			}
			if !ok {
				return appErrors.Clone(appErrors.ErrValidation,
					fmt.Sprintf("value for field %s rejected by its verifiers", entry.FieldID))
			}
		}
		rows = append(rows, models.DataRow{
			StudyID:    studyID,
			SubjectID:  entry.SubjectID,
			VisitID:    entry.VisitID,
			FieldID:    entry.FieldID,
			Value:      models.JSONValue{V: entry.Value},
			UploaderID: user.ID,
		})
	}

	if err := s.dataRows.Append(ctx, rows); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append data rows")
	}
	if err := s.cache.InvalidateStudy(ctx, studyID); err != nil {
		s.logger.Warn("failed to invalidate cached results after write",
			zap.String("study_id", studyID), zap.Error(err))
	}
	return nil
}

// DeleteData tombstones data points. The rows stay in the log; reduction
// hides the key once its latest entry is a tombstone.
func (s *QueryService) DeleteData(ctx context.Context, user *models.User, studyID string, req DeleteRequest) error {
	perm, err := s.permissions.Resolve(ctx, user, studyID, req.ProjectID, models.OperationDelete)
	if err != nil {
		return err
	}

	now := time.Now()
	rows := make([]models.DataRow, 0, len(req.Entries))
	for _, entry := range req.Entries {
		if !perm.CoversEntry(entry.SubjectID, entry.VisitID, entry.FieldID) {
			return appErrors.Clone(appErrors.ErrDenied,
				fmt.Sprintf("no role covers deleting %s/%s/%s", entry.SubjectID, entry.VisitID, entry.FieldID))
		}
		rows = append(rows, models.DataRow{
			StudyID:    studyID,
			SubjectID:  entry.SubjectID,
			VisitID:    entry.VisitID,
			FieldID:    entry.FieldID,
			Value:      models.JSONValue{V: nil},
			UploaderID: user.ID,
			DeletedAt:  &now,
		})
	}

	if err := s.dataRows.Append(ctx, rows); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append tombstones")
	}
	if err := s.cache.InvalidateStudy(ctx, studyID); err != nil {
		s.logger.Warn("failed to invalidate cached results after delete",
			zap.String("study_id", studyID), zap.Error(err))
	}
	return nil
}

// draftFields resolves the latest dictionary entry per field id across the
// whole history including drafts, for verifier lookup on writes.
func (s *QueryService) draftFields(ctx context.Context, studyID string) (map[string]models.Field, error) {
	study, err := s.versions.GetStudy(ctx, studyID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(study.DataVersions))
	for _, v := range study.DataVersions {
		ids = append(ids, v.ID)
	}

	fields, err := s.fields.ListByStudy(ctx, studyID, ids, true)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fields")
	}

	latest := make(map[string]models.Field, len(fields))
	for _, field := range transform.ReduceFields(fields, false) {
		latest[field.FieldID] = field
	}
	return latest, nil
}
