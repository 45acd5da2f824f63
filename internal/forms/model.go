package forms

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// FieldType enumerates the closed set of supported field kinds. The type of a
// field determines the shape of its submitted value: checkbox fields carry a
// set of option strings, every other type carries a single scalar string.
type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeEmail    FieldType = "email"
	FieldTypeTextArea FieldType = "textarea"
	FieldTypeSelect   FieldType = "select"
	FieldTypeCheckbox FieldType = "checkbox"
	FieldTypeRadio    FieldType = "radio"
	FieldTypeNumber   FieldType = "number"
	FieldTypeDate     FieldType = "date"
)

// PrivacyTier gates who may view and submit a form.
type PrivacyTier string

const (
	PrivacyTierPublic           PrivacyTier = "public"
	PrivacyTierCreatorOnly      PrivacyTier = "creator_only"
	PrivacyTierRestrictedEmails PrivacyTier = "restricted_emails"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidFormID indicates that a form identifier is empty or exceeds storage bounds.
	ErrInvalidFormID = errors.New("forms: invalid form id")
	// ErrInvalidSlug indicates that a slug is empty or exceeds storage bounds.
	ErrInvalidSlug = errors.New("forms: invalid slug")
)

// KnownFieldType reports whether the value belongs to the closed tag set.
func KnownFieldType(value FieldType) bool {
	switch value {
	case FieldTypeText, FieldTypeEmail, FieldTypeTextArea, FieldTypeSelect,
		FieldTypeCheckbox, FieldTypeRadio, FieldTypeNumber, FieldTypeDate:
		return true
	default:
		return false
	}
}

// RequiresOptions reports whether fields of this type must declare an option list.
func (t FieldType) RequiresOptions() bool {
	switch t {
	case FieldTypeSelect, FieldTypeCheckbox, FieldTypeRadio:
		return true
	default:
		return false
	}
}

// SetValued reports whether submitted values for this type are option sets
// rather than scalars.
func (t FieldType) SetValued() bool {
	return t == FieldTypeCheckbox
}

// KnownPrivacyTier reports whether the value is a recognised tier.
func KnownPrivacyTier(value PrivacyTier) bool {
	switch value {
	case PrivacyTierPublic, PrivacyTierCreatorOnly, PrivacyTierRestrictedEmails:
		return true
	default:
		return false
	}
}

// FieldConstraints carries the optional advisory validation block of a field.
type FieldConstraints struct {
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
}

// FieldSpec describes one typed, orderable field within a form definition.
type FieldSpec struct {
	ID          string            `json:"id"`
	Type        FieldType         `json:"type"`
	Label       string            `json:"label"`
	Placeholder string            `json:"placeholder,omitempty"`
	Required    bool              `json:"required"`
	Options     []string          `json:"options,omitempty"`
	Validation  *FieldConstraints `json:"validation,omitempty"`
}

// FormID represents a validated form identifier.
type FormID string

// NewFormID validates raw input and returns a FormID.
func NewFormID(rawInput string) (FormID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidFormID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidFormID, maxIdentifierLength)
	}
	return FormID(trimmed), nil
}

// String returns the underlying string identifier.
func (id FormID) String() string {
	return string(id)
}

// Slug represents a validated public form address.
type Slug string

// NewSlug validates raw input and returns a Slug.
func NewSlug(rawInput string) (Slug, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSlug)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidSlug, maxIdentifierLength)
	}
	return Slug(trimmed), nil
}

// String returns the underlying slug value.
func (s Slug) String() string {
	return string(s)
}

// FormDefinition models a persisted form. Fields and the allowed email list
// are stored as serialized JSON attached to the record. The slug is assigned
// exactly once at creation and never changed by updates.
type FormDefinition struct {
	ID                string      `gorm:"column:id;primaryKey;size:190;not null"`
	Title             string      `gorm:"column:title;size:320;not null"`
	Description       string      `gorm:"column:description;type:text;not null;default:''"`
	FieldsJSON        string      `gorm:"column:fields_json;type:text;not null"`
	Slug              string      `gorm:"column:slug;size:190;not null;uniqueIndex:idx_forms_slug"`
	PrivacyTier       PrivacyTier `gorm:"column:privacy_tier;size:32;not null;default:'public'"`
	AllowedEmailsJSON string      `gorm:"column:allowed_emails_json;type:text;not null;default:'[]'"`
	CreatorID         string      `gorm:"column:creator_id;size:190;not null;index:idx_forms_creator"`
	IsActive          bool        `gorm:"column:is_active;not null;default:true"`
	CreatedAt         time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time   `gorm:"column:updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (FormDefinition) TableName() string {
	return "forms"
}

// Fields decodes the serialized field specifications in display order.
func (f *FormDefinition) Fields() ([]FieldSpec, error) {
	if strings.TrimSpace(f.FieldsJSON) == "" {
		return nil, nil
	}
	var fields []FieldSpec
	if err := json.Unmarshal([]byte(f.FieldsJSON), &fields); err != nil {
		return nil, fmt.Errorf("forms: decode fields for %s: %w", f.ID, err)
	}
	return fields, nil
}

// SetFields serializes the ordered field specifications onto the record.
func (f *FormDefinition) SetFields(fields []FieldSpec) error {
	if fields == nil {
		fields = []FieldSpec{}
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	f.FieldsJSON = string(encoded)
	return nil
}

// AllowedEmails decodes the serialized allow list. The list only has meaning
// under the restricted_emails tier.
func (f *FormDefinition) AllowedEmails() []string {
	if strings.TrimSpace(f.AllowedEmailsJSON) == "" {
		return nil
	}
	var emails []string
	if err := json.Unmarshal([]byte(f.AllowedEmailsJSON), &emails); err != nil {
		return nil
	}
	return emails
}

// SetAllowedEmails serializes the allow list onto the record.
func (f *FormDefinition) SetAllowedEmails(emails []string) error {
	if emails == nil {
		emails = []string{}
	}
	encoded, err := json.Marshal(emails)
	if err != nil {
		return err
	}
	f.AllowedEmailsJSON = string(encoded)
	return nil
}

// NormalizeEmail canonicalises an email address for allow-list comparison.
func NormalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// Submission records one response to a form. Submissions are immutable once
// written and removed only when their parent form is deleted.
type Submission struct {
	ID             string    `gorm:"column:id;primaryKey;size:190;not null"`
	FormID         string    `gorm:"column:form_id;size:190;not null;index:idx_submissions_form"`
	DataJSON       string    `gorm:"column:data_json;type:text;not null"`
	RequesterIP    string    `gorm:"column:requester_ip;size:64;not null;default:''"`
	RequesterAgent string    `gorm:"column:requester_agent;size:512;not null;default:''"`
	SubmittedAt    time.Time `gorm:"column:submitted_at"`
}

// TableName provides the explicit table binding for GORM.
func (Submission) TableName() string {
	return "form_submissions"
}

// Values decodes the stored value map keyed by field id.
func (s *Submission) Values() (ValueMap, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(s.DataJSON), &raw); err != nil {
		return nil, fmt.Errorf("forms: decode submission %s: %w", s.ID, err)
	}
	return ValueMapFromJSON(raw), nil
}
