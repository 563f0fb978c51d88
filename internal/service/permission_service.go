package service

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/kestrel-research/rdm-api/internal/models"
	appErrors "github.com/kestrel-research/rdm-api/pkg/errors"
)

type permissionRoleRepository interface {
	ListForUser(ctx context.Context, studyID string, projectID *string, userID string, op models.Operation) ([]models.Role, error)
}

// CombinedPermission merges the data permissions of every role that applies
// to one (user, study, project, operation) request. Pattern lists keep their
// per-role order, with roles concatenated oldest first, so resolution is
// deterministic regardless of which role granted what.
type CombinedPermission struct {
	SubjectPatterns []string
	VisitPatterns   []string
	FieldPatterns   []string
	// Uploaders restricts rows to uploader ids matching any of the listed
	// patterns. Empty means unrestricted: a single role without an uploader
	// restriction lifts the restriction for the whole combination.
	Uploaders    []string
	HasVersioned bool

	subjects  []*regexp.Regexp
	visits    []*regexp.Regexp
	fields    []*regexp.Regexp
	uploaders []*regexp.Regexp
}

// CoversField reports whether any field pattern matches the id.
func (p *CombinedPermission) CoversField(fieldID string) bool {
	return matchAny(p.fields, fieldID)
}

// CoversEntry reports whether the (subject, visit, field) triple is covered
// in every dimension.
func (p *CombinedPermission) CoversEntry(subjectID, visitID, fieldID string) bool {
	return matchAny(p.subjects, subjectID) &&
		matchAny(p.visits, visitID) &&
		matchAny(p.fields, fieldID)
}

// CoversUploader reports whether rows from the uploader are visible.
func (p *CombinedPermission) CoversUploader(uploaderID string) bool {
	if len(p.uploaders) == 0 {
		return true
	}
	return matchAny(p.uploaders, uploaderID)
}

func matchAny(patterns []*regexp.Regexp, id string) bool {
	for _, re := range patterns {
		if re.MatchString(id) {
			return true
		}
	}
	return false
}

// PermissionService resolves which data a caller may touch. Patterns are
// compiled once and memoized; role payloads change rarely compared to how
// often queries run.
type PermissionService struct {
	roles  permissionRoleRepository
	logger *zap.Logger

	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
}

// NewPermissionService constructs a PermissionService.
func NewPermissionService(roles permissionRoleRepository, logger *zap.Logger) *PermissionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PermissionService{roles: roles, logger: logger, compiled: make(map[string]*regexp.Regexp)}
}

// Resolve combines every applicable role into one permission. Administrators
// bypass role lookup and receive a catch-all. Zero applicable roles is a
// denial, which is distinct from roles whose patterns simply match nothing.
func (s *PermissionService) Resolve(ctx context.Context, user *models.User, studyID string, projectID *string, op models.Operation) (*CombinedPermission, error) {
	if user.IsAdmin {
		return s.adminPermission()
	}

	roles, err := s.roles.ListForUser(ctx, studyID, projectID, user.ID, op)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list roles")
	}
	if len(roles) == 0 {
		return nil, appErrors.ErrDenied
	}

	combined := &CombinedPermission{}
	unrestricted := false
	for i := range roles {
		data := roles[i].Permissions.Data
		combined.SubjectPatterns = append(combined.SubjectPatterns, data.SubjectIDs...)
		combined.VisitPatterns = append(combined.VisitPatterns, data.VisitIDs...)
		combined.FieldPatterns = append(combined.FieldPatterns, data.FieldIDs...)
		combined.HasVersioned = combined.HasVersioned || data.HasVersioned

		if len(data.Uploaders) == 0 {
			unrestricted = true
		}
		combined.Uploaders = append(combined.Uploaders, data.Uploaders...)
	}

	if unrestricted {
		combined.Uploaders = nil
	}

	if err := s.compile(combined); err != nil {
		return nil, err
	}
	return combined, nil
}

// ValidatePatterns checks that every pattern in a permission payload
// compiles, so broken regexes are rejected at role edit time instead of
// surfacing on someone else's query.
func (s *PermissionService) ValidatePatterns(perms models.RolePermissions) error {
	all := make([]string, 0,
		len(perms.Data.SubjectIDs)+len(perms.Data.VisitIDs)+len(perms.Data.FieldIDs)+len(perms.Data.Uploaders))
	all = append(all, perms.Data.SubjectIDs...)
	all = append(all, perms.Data.VisitIDs...)
	all = append(all, perms.Data.FieldIDs...)
	all = append(all, perms.Data.Uploaders...)
	for _, pattern := range all {
		if _, err := s.pattern(pattern); err != nil {
			return appErrors.Wrap(err, appErrors.ErrBadPattern.Code, appErrors.ErrBadPattern.Status,
				fmt.Sprintf("pattern %q does not compile", pattern))
		}
	}
	return nil
}

func (s *PermissionService) adminPermission() (*CombinedPermission, error) {
	combined := &CombinedPermission{
		SubjectPatterns: []string{".*"},
		VisitPatterns:   []string{".*"},
		FieldPatterns:   []string{".*"},
		HasVersioned:    true,
	}
	if err := s.compile(combined); err != nil {
		return nil, err
	}
	return combined, nil
}

func (s *PermissionService) compile(combined *CombinedPermission) error {
	var err error
	if combined.subjects, err = s.patterns(combined.SubjectPatterns); err != nil {
		return err
	}
	if combined.visits, err = s.patterns(combined.VisitPatterns); err != nil {
		return err
	}
	if combined.fields, err = s.patterns(combined.FieldPatterns); err != nil {
		return err
	}
	combined.uploaders, err = s.patterns(combined.Uploaders)
	return err
}

func (s *PermissionService) patterns(raw []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(raw))
	for _, pattern := range raw {
		re, err := s.pattern(pattern)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrBadPattern.Code, appErrors.ErrBadPattern.Status,
				fmt.Sprintf("pattern %q does not compile", pattern))
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// pattern compiles an identifier pattern anchored at both ends; "subj" must
// not match "subj-extra".
func (s *PermissionService) pattern(raw string) (*regexp.Regexp, error) {
	s.mu.RLock()
	re, ok := s.compiled[raw]
	s.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile("^(?:" + raw + ")$")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.compiled[raw] = re
	s.mu.Unlock()
	return re, nil
}
