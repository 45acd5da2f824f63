package forms

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/fieldsetapp/fieldset/backend/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingCreatorID  = errors.New("creator identifier is required")
	errMissingTitle      = errors.New("title is required")
	errNotOwner          = errors.New("requester does not own this form")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew        = "forms.service.new"
	opCreateForm        = "forms.create_form"
	opListForms         = "forms.list_forms"
	opGetBySlug         = "forms.get_by_slug"
	opSubmit            = "forms.submit"
	opGetForManage      = "forms.get_for_manage"
	opUpdateForm        = "forms.update_form"
	opDeleteForm        = "forms.delete_form"
	opListSubmissions   = "forms.list_submissions"
	opDashboardStats    = "forms.stats"
	slugCreateAttempts  = 3
	unknownRequesterTag = "unknown"
)

// IDProvider issues identifiers for new forms and submissions.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the forms service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service implements form definition management and the submission pipeline.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the forms service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(ErrorKindInternal, opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(ErrorKindInternal, opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// FormDraft carries the caller-supplied shape of a form for create and
// update operations. The slug and creator are never part of a draft.
type FormDraft struct {
	Title         string
	Description   string
	Fields        []FieldSpec
	PrivacyTier   PrivacyTier
	AllowedEmails []string
	IsActive      *bool
}

// FormSchema is the public view of a form returned to visitors: the shape
// needed to render and submit it, without privacy-sensitive settings.
type FormSchema struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Fields      []FieldSpec `json:"fields"`
	Slug        string      `json:"slug"`
}

// RequestMeta carries best-effort transport metadata captured at submit time.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// SubmissionReceipt identifies a stored submission and the form it belongs to.
type SubmissionReceipt struct {
	SubmissionID string
	FormID       string
	CreatorID    string
	SubmittedAt  time.Time
}

// DashboardStats aggregates a creator's dashboard counters.
type DashboardStats struct {
	TotalForms       int64 `json:"total_forms"`
	ActiveForms      int64 `json:"active_forms"`
	TotalSubmissions int64 `json:"total_submissions"`
}

// CreateForm validates a draft, assigns a slug, and persists the definition.
// Slug collisions with concurrent creations are retried with a fresh clock
// reading a bounded number of times before surfacing a conflict.
func (s *Service) CreateForm(ctx context.Context, creatorID string, draft FormDraft) (*FormDefinition, error) {
	if strings.TrimSpace(creatorID) == "" {
		return nil, newServiceError(ErrorKindAccessDenied, opCreateForm, "missing_creator", errMissingCreatorID)
	}
	normalized, problems := normalizeDraft(draft)
	if len(problems) > 0 {
		return nil, newValidationError(opCreateForm, problems)
	}

	formID, err := s.idProvider.NewID()
	if err != nil {
		return nil, newServiceError(ErrorKindInternal, opCreateForm, "id_generation", err)
	}

	form := FormDefinition{
		ID:          formID,
		Title:       normalized.Title,
		Description: normalized.Description,
		PrivacyTier: normalized.PrivacyTier,
		CreatorID:   strings.TrimSpace(creatorID),
		IsActive:    true,
	}
	if err := form.SetFields(normalized.Fields); err != nil {
		return nil, newServiceError(ErrorKindInternal, opCreateForm, "encode_fields", err)
	}
	if err := form.SetAllowedEmails(normalized.AllowedEmails); err != nil {
		return nil, newServiceError(ErrorKindInternal, opCreateForm, "encode_allowed_emails", err)
	}

	for attempt := 1; attempt <= slugCreateAttempts; attempt++ {
		now := s.clock().UTC()
		form.Slug = slugFromTitle(normalized.Title, now)
		form.CreatedAt = now
		form.UpdatedAt = now

		err := s.db.WithContext(ctx).Create(&form).Error
		if err == nil {
			return &form, nil
		}
		if !isUniqueViolation(err) {
			return nil, newServiceError(ErrorKindInternal, opCreateForm, "persist", err)
		}
		s.logger.Warn("slug collision, regenerating",
			zap.String("slug", form.Slug),
			zap.Int("attempt", attempt))
	}
	return nil, newServiceError(ErrorKindConflict, opCreateForm, "slug_conflict", nil)
}

// ListForms returns the creator's forms, most recently updated first.
func (s *Service) ListForms(ctx context.Context, creatorID string) ([]FormDefinition, error) {
	if strings.TrimSpace(creatorID) == "" {
		return nil, newServiceError(ErrorKindAccessDenied, opListForms, "missing_creator", errMissingCreatorID)
	}
	var definitions []FormDefinition
	err := s.db.WithContext(ctx).
		Where("creator_id = ?", creatorID).
		Order("updated_at DESC").
		Find(&definitions).Error
	if err != nil {
		return nil, newServiceError(ErrorKindInternal, opListForms, "query", err)
	}
	return definitions, nil
}

// GetBySlug resolves an active form by its public address and returns the
// schema view when the requester passes the privacy-tier check. Inactive and
// unknown slugs are indistinguishable to outsiders.
func (s *Service) GetBySlug(ctx context.Context, identity *auth.Identity, slug string) (*FormSchema, error) {
	form, err := s.activeBySlug(ctx, opGetBySlug, slug)
	if err != nil {
		return nil, err
	}
	if DecideAccess(identity, form) != AccessAllow {
		return nil, newServiceError(ErrorKindAccessDenied, opGetBySlug, "denied", nil)
	}
	return schemaView(opGetBySlug, form)
}

// Submit runs the submission pipeline: resolve, authorize, validate, then
// persist exactly one record. Every failure path aborts before anything is
// written.
func (s *Service) Submit(ctx context.Context, identity *auth.Identity, slug string, values ValueMap, meta RequestMeta) (*SubmissionReceipt, error) {
	form, err := s.activeBySlug(ctx, opSubmit, slug)
	if err != nil {
		return nil, err
	}
	if DecideAccess(identity, form) != AccessAllow {
		return nil, newServiceError(ErrorKindAccessDenied, opSubmit, "denied", nil)
	}

	fields, err := form.Fields()
	if err != nil {
		return nil, newServiceError(ErrorKindInternal, opSubmit, "decode_fields", err)
	}
	if problems := validateValues(fields, values); len(problems) > 0 {
		return nil, newValidationError(opSubmit, problems)
	}

	submissionID, err := s.idProvider.NewID()
	if err != nil {
		return nil, newServiceError(ErrorKindInternal, opSubmit, "id_generation", err)
	}
	encoded, err := json.Marshal(values.JSONObject())
	if err != nil {
		return nil, newServiceError(ErrorKindInternal, opSubmit, "encode_values", err)
	}

	submission := Submission{
		ID:             submissionID,
		FormID:         form.ID,
		DataJSON:       string(encoded),
		RequesterIP:    orUnknown(meta.IP),
		RequesterAgent: orUnknown(meta.UserAgent),
		SubmittedAt:    s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&submission).Error; err != nil {
		return nil, newServiceError(ErrorKindInternal, opSubmit, "persist", err)
	}

	return &SubmissionReceipt{
		SubmissionID: submission.ID,
		FormID:       form.ID,
		CreatorID:    form.CreatorID,
		SubmittedAt:  submission.SubmittedAt,
	}, nil
}

// GetForManage returns the full definition, owner only.
func (s *Service) GetForManage(ctx context.Context, identity *auth.Identity, formID string) (*FormDefinition, error) {
	return s.ownedByID(ctx, opGetForManage, identity, formID)
}

// UpdateForm replaces title, description, fields, privacy tier, and allowed
// emails of an owned form. The slug and creator are immutable.
func (s *Service) UpdateForm(ctx context.Context, identity *auth.Identity, formID string, draft FormDraft) (*FormDefinition, error) {
	form, err := s.ownedByID(ctx, opUpdateForm, identity, formID)
	if err != nil {
		return nil, err
	}
	normalized, problems := normalizeDraft(draft)
	if len(problems) > 0 {
		return nil, newValidationError(opUpdateForm, problems)
	}

	form.Title = normalized.Title
	form.Description = normalized.Description
	form.PrivacyTier = normalized.PrivacyTier
	if err := form.SetFields(normalized.Fields); err != nil {
		return nil, newServiceError(ErrorKindInternal, opUpdateForm, "encode_fields", err)
	}
	if err := form.SetAllowedEmails(normalized.AllowedEmails); err != nil {
		return nil, newServiceError(ErrorKindInternal, opUpdateForm, "encode_allowed_emails", err)
	}
	if draft.IsActive != nil {
		form.IsActive = *draft.IsActive
	}
	form.UpdatedAt = s.clock().UTC()

	if err := s.db.WithContext(ctx).Save(form).Error; err != nil {
		return nil, newServiceError(ErrorKindInternal, opUpdateForm, "persist", err)
	}
	return form, nil
}

// DeleteForm removes an owned form together with all of its submissions in
// one transaction, preserving referential integrity.
func (s *Service) DeleteForm(ctx context.Context, identity *auth.Identity, formID string) error {
	form, err := s.ownedByID(ctx, opDeleteForm, identity, formID)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("form_id = ?", form.ID).Delete(&Submission{}).Error; err != nil {
			return err
		}
		return tx.Delete(&FormDefinition{}, "id = ?", form.ID).Error
	})
	if err != nil {
		return newServiceError(ErrorKindInternal, opDeleteForm, "persist", err)
	}
	s.logger.Info("form deleted", zap.String("form_id", form.ID))
	return nil
}

// ListSubmissions returns an owned form's submissions, newest first.
func (s *Service) ListSubmissions(ctx context.Context, identity *auth.Identity, formID string) ([]Submission, error) {
	form, err := s.ownedByID(ctx, opListSubmissions, identity, formID)
	if err != nil {
		return nil, err
	}
	var submissions []Submission
	err = s.db.WithContext(ctx).
		Where("form_id = ?", form.ID).
		Order("submitted_at DESC").
		Find(&submissions).Error
	if err != nil {
		return nil, newServiceError(ErrorKindInternal, opListSubmissions, "query", err)
	}
	return submissions, nil
}

// Stats aggregates dashboard counters across the creator's forms.
func (s *Service) Stats(ctx context.Context, creatorID string) (DashboardStats, error) {
	if strings.TrimSpace(creatorID) == "" {
		return DashboardStats{}, newServiceError(ErrorKindAccessDenied, opDashboardStats, "missing_creator", errMissingCreatorID)
	}
	var stats DashboardStats
	db := s.db.WithContext(ctx)
	if err := db.Model(&FormDefinition{}).Where("creator_id = ?", creatorID).Count(&stats.TotalForms).Error; err != nil {
		return DashboardStats{}, newServiceError(ErrorKindInternal, opDashboardStats, "query", err)
	}
	if err := db.Model(&FormDefinition{}).Where("creator_id = ? AND is_active = ?", creatorID, true).Count(&stats.ActiveForms).Error; err != nil {
		return DashboardStats{}, newServiceError(ErrorKindInternal, opDashboardStats, "query", err)
	}
	ownedForms := db.Model(&FormDefinition{}).Select("id").Where("creator_id = ?", creatorID)
	if err := db.Model(&Submission{}).Where("form_id IN (?)", ownedForms).Count(&stats.TotalSubmissions).Error; err != nil {
		return DashboardStats{}, newServiceError(ErrorKindInternal, opDashboardStats, "query", err)
	}
	return stats, nil
}

func (s *Service) activeBySlug(ctx context.Context, operation, slug string) (*FormDefinition, error) {
	parsed, err := NewSlug(slug)
	if err != nil {
		return nil, newServiceError(ErrorKindNotFound, operation, "missing_form", err)
	}
	var form FormDefinition
	lookupErr := s.db.WithContext(ctx).
		Where("slug = ? AND is_active = ?", parsed.String(), true).
		Take(&form).Error
	if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
		return nil, newServiceError(ErrorKindNotFound, operation, "missing_form", nil)
	}
	if lookupErr != nil {
		return nil, newServiceError(ErrorKindInternal, operation, "query", lookupErr)
	}
	return &form, nil
}

func (s *Service) ownedByID(ctx context.Context, operation string, identity *auth.Identity, formID string) (*FormDefinition, error) {
	if identity == nil || strings.TrimSpace(identity.ID) == "" {
		return nil, newServiceError(ErrorKindAccessDenied, operation, "missing_identity", errMissingCreatorID)
	}
	parsed, err := NewFormID(formID)
	if err != nil {
		return nil, newServiceError(ErrorKindNotFound, operation, "missing_form", err)
	}
	var form FormDefinition
	lookupErr := s.db.WithContext(ctx).Where("id = ?", parsed.String()).Take(&form).Error
	if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
		return nil, newServiceError(ErrorKindNotFound, operation, "missing_form", nil)
	}
	if lookupErr != nil {
		return nil, newServiceError(ErrorKindInternal, operation, "query", lookupErr)
	}
	if !IsCreator(identity, &form) {
		return nil, newServiceError(ErrorKindAccessDenied, operation, "not_owner", errNotOwner)
	}
	return &form, nil
}

// normalizeDraft trims a draft, applies defaults, and returns structural
// validation messages. Allowed emails are only retained under the
// restricted_emails tier; under any other tier the list has no meaning and
// is not stored.
func normalizeDraft(draft FormDraft) (FormDraft, []string) {
	var problems []string

	draft.Title = strings.TrimSpace(draft.Title)
	if draft.Title == "" {
		problems = append(problems, errMissingTitle.Error())
	}
	if draft.Fields == nil {
		problems = append(problems, "fields are required")
	}
	problems = append(problems, validateFieldSpecs(draft.Fields)...)

	if draft.PrivacyTier == "" {
		draft.PrivacyTier = PrivacyTierPublic
	}
	if !KnownPrivacyTier(draft.PrivacyTier) {
		problems = append(problems, "unknown privacy tier")
	}

	if draft.PrivacyTier == PrivacyTierRestrictedEmails {
		normalized := make([]string, 0, len(draft.AllowedEmails))
		for _, email := range draft.AllowedEmails {
			if cleaned := NormalizeEmail(email); cleaned != "" {
				normalized = append(normalized, cleaned)
			}
		}
		draft.AllowedEmails = normalized
	} else {
		draft.AllowedEmails = nil
	}

	return draft, problems
}

func schemaView(operation string, form *FormDefinition) (*FormSchema, error) {
	fields, err := form.Fields()
	if err != nil {
		return nil, newServiceError(ErrorKindInternal, operation, "decode_fields", err)
	}
	if fields == nil {
		fields = []FieldSpec{}
	}
	return &FormSchema{
		ID:          form.ID,
		Title:       form.Title,
		Description: form.Description,
		Fields:      fields,
		Slug:        form.Slug,
	}, nil
}

func orUnknown(value string) string {
	if strings.TrimSpace(value) == "" {
		return unknownRequesterTag
	}
	return value
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
