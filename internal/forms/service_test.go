package forms

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fieldsetapp/fieldset/backend/internal/auth"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type sequenceIDProvider struct {
	prefix string
	next   int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("%s-%04d", p.prefix, p.next), nil
}

// steppingClock advances by one second per reading so consecutive slug
// suffixes differ.
type steppingClock struct {
	current time.Time
}

func (c *steppingClock) Now() time.Time {
	c.current = c.current.Add(time.Second)
	return c.current
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:forms_service_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&FormDefinition{}, &Submission{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T, clock func() time.Time) *Service {
	t.Helper()
	if clock == nil {
		clock = func() time.Time { return time.UnixMilli(1700000123456) }
	}
	service, err := NewService(ServiceConfig{
		Database:   newTestDatabase(t),
		Clock:      clock,
		IDProvider: &sequenceIDProvider{prefix: "id"},
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func sampleDraft() FormDraft {
	return FormDraft{
		Title:       "Customer Feedback",
		Description: "Tell us what you think",
		Fields: []FieldSpec{
			{ID: "f1", Type: FieldTypeText, Label: "Name", Required: true},
			{ID: "f2", Type: FieldTypeNumber, Label: "Rating", Validation: &FieldConstraints{Min: floatPtr(1), Max: floatPtr(5)}},
			{ID: "f3", Type: FieldTypeCheckbox, Label: "Topics", Options: []string{"price", "support"}},
		},
	}
}

func assertKind(t *testing.T, err error, want ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected a %s error, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("unexpected error kind: got %s want %s (%v)", got, want, err)
	}
}

func TestCreateFormAssignsSlugAndDefaults(t *testing.T) {
	service := newTestService(t, nil)
	form, err := service.CreateForm(context.Background(), "creator-1", sampleDraft())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if form.Slug != "customer-feedback-123456" {
		t.Fatalf("unexpected slug %q", form.Slug)
	}
	if form.PrivacyTier != PrivacyTierPublic {
		t.Fatalf("expected public default tier, got %s", form.PrivacyTier)
	}
	if !form.IsActive {
		t.Fatalf("expected new forms to start active")
	}
	if form.CreatorID != "creator-1" {
		t.Fatalf("unexpected creator %q", form.CreatorID)
	}
	fields, err := form.Fields()
	if err != nil {
		t.Fatalf("failed to decode fields: %v", err)
	}
	if len(fields) != 3 || fields[0].ID != "f1" {
		t.Fatalf("field order not preserved: %+v", fields)
	}
}

func TestCreateFormValidatesDraft(t *testing.T) {
	service := newTestService(t, nil)

	testCases := []struct {
		name  string
		draft FormDraft
	}{
		{name: "missing-title", draft: FormDraft{Fields: []FieldSpec{}}},
		{name: "missing-fields", draft: FormDraft{Title: "No Fields"}},
		{name: "unknown-tier", draft: FormDraft{Title: "Bad Tier", Fields: []FieldSpec{}, PrivacyTier: PrivacyTier("secret")}},
		{name: "bad-field-spec", draft: FormDraft{Title: "Bad Field", Fields: []FieldSpec{{Type: FieldTypeText}}}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := service.CreateForm(context.Background(), "creator-1", testCase.draft)
			assertKind(t, err, ErrorKindValidationFailed)
			var serviceErr *ServiceError
			if !errors.As(err, &serviceErr) || len(serviceErr.Details()) == 0 {
				t.Fatalf("expected validation details, got %v", err)
			}
		})
	}
}

func TestCreateFormSlugConflictExhaustsRetries(t *testing.T) {
	// A frozen clock regenerates the same slug on every attempt, so a second
	// create with the same title must exhaust its retries and report conflict.
	service := newTestService(t, nil)
	if _, err := service.CreateForm(context.Background(), "creator-1", sampleDraft()); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	_, err := service.CreateForm(context.Background(), "creator-1", sampleDraft())
	assertKind(t, err, ErrorKindConflict)
}

func TestCreateFormSlugConflictRetriesWithFreshClock(t *testing.T) {
	clock := &steppingClock{current: time.UnixMilli(1700000123000)}
	service := newTestService(t, clock.Now)
	first, err := service.CreateForm(context.Background(), "creator-1", sampleDraft())
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	second, err := service.CreateForm(context.Background(), "creator-1", sampleDraft())
	if err != nil {
		t.Fatalf("expected retry with a fresh suffix to succeed: %v", err)
	}
	if first.Slug == second.Slug {
		t.Fatalf("expected distinct slugs, got %q twice", first.Slug)
	}
}

func TestCreateFormDropsAllowListOutsideRestrictedTier(t *testing.T) {
	service := newTestService(t, nil)
	draft := sampleDraft()
	draft.AllowedEmails = []string{"someone@example.com"}
	form, err := service.CreateForm(context.Background(), "creator-1", draft)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if emails := form.AllowedEmails(); len(emails) != 0 {
		t.Fatalf("allow list must not be stored for public forms, got %v", emails)
	}
}

func TestCreateFormNormalizesAllowList(t *testing.T) {
	service := newTestService(t, nil)
	draft := sampleDraft()
	draft.PrivacyTier = PrivacyTierRestrictedEmails
	draft.AllowedEmails = []string{"  Guest@Example.COM ", "", "other@example.com"}
	form, err := service.CreateForm(context.Background(), "creator-1", draft)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	emails := form.AllowedEmails()
	if len(emails) != 2 || emails[0] != "guest@example.com" || emails[1] != "other@example.com" {
		t.Fatalf("unexpected stored allow list: %v", emails)
	}
}

func TestListFormsScopedToCreator(t *testing.T) {
	clock := &steppingClock{current: time.UnixMilli(1700000123000)}
	service := newTestService(t, clock.Now)
	ctx := context.Background()
	if _, err := service.CreateForm(ctx, "creator-1", sampleDraft()); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := service.CreateForm(ctx, "creator-2", sampleDraft()); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	second, err := service.CreateForm(ctx, "creator-1", FormDraft{Title: "Later Form", Fields: []FieldSpec{}})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	listed, err := service.ListForms(ctx, "creator-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected two owned forms, got %d", len(listed))
	}
	if listed[0].ID != second.ID {
		t.Fatalf("expected most recently updated form first, got %q", listed[0].ID)
	}
}

func TestGetBySlugReturnsSchemaWithoutPrivacySettings(t *testing.T) {
	service := newTestService(t, nil)
	form, err := service.CreateForm(context.Background(), "creator-1", sampleDraft())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	schema, err := service.GetBySlug(context.Background(), nil, form.Slug)
	if err != nil {
		t.Fatalf("get by slug failed: %v", err)
	}
	if schema.ID != form.ID || schema.Slug != form.Slug || schema.Title != form.Title {
		t.Fatalf("unexpected schema view: %+v", schema)
	}
	if len(schema.Fields) != 3 {
		t.Fatalf("expected all fields in schema view, got %d", len(schema.Fields))
	}
}

func TestGetBySlugHidesInactiveAndUnknownForms(t *testing.T) {
	service := newTestService(t, nil)
	ctx := context.Background()
	form, err := service.CreateForm(ctx, "creator-1", sampleDraft())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, err = service.GetBySlug(ctx, nil, "no-such-form-000000")
	assertKind(t, err, ErrorKindNotFound)

	inactive := false
	draft := sampleDraft()
	draft.IsActive = &inactive
	identity := &auth.Identity{ID: "creator-1", Email: "owner@example.com"}
	if _, err := service.UpdateForm(ctx, identity, form.ID, draft); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}

	// Inactive forms are indistinguishable from missing ones, even for the
	// creator on the public path.
	_, err = service.GetBySlug(ctx, identity, form.Slug)
	assertKind(t, err, ErrorKindNotFound)
}

func TestGetBySlugEnforcesPrivacyTier(t *testing.T) {
	service := newTestService(t, nil)
	ctx := context.Background()
	draft := sampleDraft()
	draft.PrivacyTier = PrivacyTierRestrictedEmails
	draft.AllowedEmails = []string{"guest@example.com"}
	form, err := service.CreateForm(ctx, "creator-1", draft)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, err = service.GetBySlug(ctx, nil, form.Slug)
	assertKind(t, err, ErrorKindAccessDenied)

	_, err = service.GetBySlug(ctx, &auth.Identity{ID: "visitor", Email: "other@example.com"}, form.Slug)
	assertKind(t, err, ErrorKindAccessDenied)

	if _, err := service.GetBySlug(ctx, &auth.Identity{ID: "visitor", Email: "guest@example.com"}, form.Slug); err != nil {
		t.Fatalf("listed email should be allowed: %v", err)
	}
	if _, err := service.GetBySlug(ctx, &auth.Identity{ID: "creator-1"}, form.Slug); err != nil {
		t.Fatalf("creator should always be allowed: %v", err)
	}
}

func TestSubmitRoundTripPreservesValues(t *testing.T) {
	service := newTestService(t, nil)
	ctx := context.Background()
	form, err := service.CreateForm(ctx, "creator-1", sampleDraft())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	receipt, err := service.Submit(ctx, nil, form.Slug, ValueMap{
		"f1": ScalarValue("hello"),
		"f2": ScalarValue("4"),
		"f3": SetValue([]string{"price"}),
	}, RequestMeta{IP: "203.0.113.9", UserAgent: "test-agent"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if receipt.FormID != form.ID || receipt.CreatorID != "creator-1" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	identity := &auth.Identity{ID: "creator-1"}
	submissions, err := service.ListSubmissions(ctx, identity, form.ID)
	if err != nil {
		t.Fatalf("list submissions failed: %v", err)
	}
	if len(submissions) != 1 {
		t.Fatalf("expected one stored submission, got %d", len(submissions))
	}
	stored := submissions[0]
	if stored.RequesterIP != "203.0.113.9" || stored.RequesterAgent != "test-agent" {
		t.Fatalf("request metadata not preserved: %+v", stored)
	}
	values, err := stored.Values()
	if err != nil {
		t.Fatalf("failed to decode stored values: %v", err)
	}
	if got := values["f1"].Scalar(); got != "hello" {
		t.Fatalf("scalar value not preserved: %q", got)
	}
	set := values["f3"].Set()
	if len(set) != 1 || set[0] != "price" {
		t.Fatalf("set value not preserved: %v", set)
	}
}

func TestSubmitRejectsInvalidValuesWithoutPersisting(t *testing.T) {
	service := newTestService(t, nil)
	ctx := context.Background()
	form, err := service.CreateForm(ctx, "creator-1", sampleDraft())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, err = service.Submit(ctx, nil, form.Slug, ValueMap{"f2": ScalarValue("9")}, RequestMeta{})
	assertKind(t, err, ErrorKindValidationFailed)
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected a service error, got %v", err)
	}
	details := serviceErr.Details()
	if len(details) != 2 {
		t.Fatalf("expected both failures reported, got %v", details)
	}
	if details[0] != "Name is required" || details[1] != "Rating must be at most 5" {
		t.Fatalf("unexpected messages: %v", details)
	}

	submissions, err := service.ListSubmissions(ctx, &auth.Identity{ID: "creator-1"}, form.ID)
	if err != nil {
		t.Fatalf("list submissions failed: %v", err)
	}
	if len(submissions) != 0 {
		t.Fatalf("rejected submission must not be persisted, found %d", len(submissions))
	}
}

func TestSubmitEnforcesPrivacyTier(t *testing.T) {
	service := newTestService(t, nil)
	ctx := context.Background()
	draft := sampleDraft()
	draft.PrivacyTier = PrivacyTierCreatorOnly
	form, err := service.CreateForm(ctx, "creator-1", draft)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, err = service.Submit(ctx, &auth.Identity{ID: "visitor"}, form.Slug, ValueMap{"f1": ScalarValue("x")}, RequestMeta{})
	assertKind(t, err, ErrorKindAccessDenied)

	if _, err := service.Submit(ctx, &auth.Identity{ID: "creator-1"}, form.Slug, ValueMap{"f1": ScalarValue("x")}, RequestMeta{}); err != nil {
		t.Fatalf("creator submission should pass: %v", err)
	}
}

func TestSubmitDefaultsMissingRequestMetadata(t *testing.T) {
	service := newTestService(t, nil)
	ctx := context.Background()
	form, err := service.CreateForm(ctx, "creator-1", sampleDraft())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := service.Submit(ctx, nil, form.Slug, ValueMap{"f1": ScalarValue("x")}, RequestMeta{}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	submissions, err := service.ListSubmissions(ctx, &auth.Identity{ID: "creator-1"}, form.ID)
	if err != nil {
		t.Fatalf("list submissions failed: %v", err)
	}
	if submissions[0].RequesterIP != "unknown" || submissions[0].RequesterAgent != "unknown" {
		t.Fatalf("expected unknown placeholders, got %+v", submissions[0])
	}
}

func TestUpdateFormPreservesSlugAndCreator(t *testing.T) {
	clock := &steppingClock{current: time.UnixMilli(1700000123000)}
	service := newTestService(t, clock.Now)
	ctx := context.Background()
	form, err := service.CreateForm(ctx, "creator-1", sampleDraft())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	originalSlug := form.Slug
	originalUpdated := form.UpdatedAt

	draft := FormDraft{
		Title:       "Renamed Completely",
		Description: "new description",
		Fields:      []FieldSpec{{ID: "f9", Type: FieldTypeDate, Label: "When"}},
		PrivacyTier: PrivacyTierCreatorOnly,
	}
	updated, err := service.UpdateForm(ctx, &auth.Identity{ID: "creator-1"}, form.ID, draft)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Slug != originalSlug {
		t.Fatalf("slug must never change on update: %q vs %q", updated.Slug, originalSlug)
	}
	if updated.CreatorID != "creator-1" {
		t.Fatalf("creator must never change on update: %q", updated.CreatorID)
	}
	if updated.Title != "Renamed Completely" || updated.PrivacyTier != PrivacyTierCreatorOnly {
		t.Fatalf("draft not applied: %+v", updated)
	}
	if !updated.UpdatedAt.After(originalUpdated) {
		t.Fatalf("expected updated_at to advance: %v vs %v", updated.UpdatedAt, originalUpdated)
	}
}

func TestUpdateFormOwnershipAndExistence(t *testing.T) {
	service := newTestService(t, nil)
	ctx := context.Background()
	form, err := service.CreateForm(ctx, "creator-1", sampleDraft())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, err = service.UpdateForm(ctx, nil, form.ID, sampleDraft())
	assertKind(t, err, ErrorKindAccessDenied)

	_, err = service.UpdateForm(ctx, &auth.Identity{ID: "creator-2"}, form.ID, sampleDraft())
	assertKind(t, err, ErrorKindAccessDenied)

	_, err = service.UpdateForm(ctx, &auth.Identity{ID: "creator-1"}, "missing-id", sampleDraft())
	assertKind(t, err, ErrorKindNotFound)
}

func TestDeleteFormCascadesToSubmissions(t *testing.T) {
	service := newTestService(t, nil)
	ctx := context.Background()
	form, err := service.CreateForm(ctx, "creator-1", sampleDraft())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := service.Submit(ctx, nil, form.Slug, ValueMap{"f1": ScalarValue("x")}, RequestMeta{}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	identity := &auth.Identity{ID: "creator-1"}
	if err := service.DeleteForm(ctx, identity, form.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	_, err = service.GetForManage(ctx, identity, form.ID)
	assertKind(t, err, ErrorKindNotFound)

	var orphaned int64
	if err := service.db.Model(&Submission{}).Where("form_id = ?", form.ID).Count(&orphaned).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if orphaned != 0 {
		t.Fatalf("expected no orphaned submissions, found %d", orphaned)
	}
}

func TestDeleteFormRequiresOwnership(t *testing.T) {
	service := newTestService(t, nil)
	ctx := context.Background()
	form, err := service.CreateForm(ctx, "creator-1", sampleDraft())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	err = service.DeleteForm(ctx, &auth.Identity{ID: "creator-2"}, form.ID)
	assertKind(t, err, ErrorKindAccessDenied)
}

func TestStatsCountsOnlyOwnedForms(t *testing.T) {
	clock := &steppingClock{current: time.UnixMilli(1700000123000)}
	service := newTestService(t, clock.Now)
	ctx := context.Background()

	first, err := service.CreateForm(ctx, "creator-1", sampleDraft())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	second, err := service.CreateForm(ctx, "creator-1", sampleDraft())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	other, err := service.CreateForm(ctx, "creator-2", sampleDraft())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := service.Submit(ctx, nil, first.Slug, ValueMap{"f1": ScalarValue("x")}, RequestMeta{}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}
	if _, err := service.Submit(ctx, nil, other.Slug, ValueMap{"f1": ScalarValue("x")}, RequestMeta{}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	inactive := false
	draft := sampleDraft()
	draft.IsActive = &inactive
	if _, err := service.UpdateForm(ctx, &auth.Identity{ID: "creator-1"}, second.ID, draft); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}

	stats, err := service.Stats(ctx, "creator-1")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalForms != 2 || stats.ActiveForms != 1 || stats.TotalSubmissions != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceConfig{IDProvider: &sequenceIDProvider{}}); err == nil {
		t.Fatalf("expected missing database to fail")
	}
	if _, err := NewService(ServiceConfig{Database: newTestDatabase(t)}); err == nil {
		t.Fatalf("expected missing id provider to fail")
	}
}
