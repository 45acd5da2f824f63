package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fieldsetapp/fieldset/backend/internal/auth"
	"github.com/fieldsetapp/fieldset/backend/internal/forms"
	"github.com/fieldsetapp/fieldset/backend/internal/server"
	"github.com/fieldsetapp/fieldset/backend/internal/users"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sessionSigningSecret = "integration-secret"
	sessionCookieName    = "fieldset_session"
	jsonContentType      = "application/json"
)

func newIntegrationServer(testContext *testing.T) *httptest.Server {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:integration_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		testContext.Fatalf("failed to access database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	testContext.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := db.AutoMigrate(&users.User{}, &forms.FormDefinition{}, &forms.Submission{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	sessions, err := auth.NewSessionManager(auth.SessionConfig{
		SigningSecret: []byte(sessionSigningSecret),
		Issuer:        "fieldset-auth",
		Audience:      "fieldset-api",
		CookieName:    sessionCookieName,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		testContext.Fatalf("failed to construct session manager: %v", err)
	}
	usersService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build users service: %v", err)
	}
	formsService, err := forms.NewService(forms.ServiceConfig{
		Database:   db,
		IDProvider: forms.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build forms service: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions: sessions,
		Users:    usersService,
		Forms:    formsService,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	testContext.Cleanup(testServer.Close)
	return testServer
}

func postJSON(testContext *testing.T, url string, cookie *http.Cookie, payload any) *http.Response {
	testContext.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		testContext.Fatalf("failed to encode payload: %v", err)
	}
	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", jsonContentType)
	if cookie != nil {
		request.AddCookie(cookie)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("request failed: %v", err)
	}
	return response
}

func getJSON(testContext *testing.T, url string, cookie *http.Cookie) *http.Response {
	testContext.Helper()
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	if cookie != nil {
		request.AddCookie(cookie)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("request failed: %v", err)
	}
	return response
}

func sessionCookieFrom(testContext *testing.T, response *http.Response) *http.Cookie {
	testContext.Helper()
	for _, cookie := range response.Cookies() {
		if cookie.Name == sessionCookieName && cookie.Value != "" {
			return cookie
		}
	}
	testContext.Fatalf("expected a %s cookie in the response", sessionCookieName)
	return nil
}

func decodeJSON(testContext *testing.T, response *http.Response) map[string]any {
	testContext.Helper()
	defer response.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		testContext.Fatalf("failed to decode response: %v", err)
	}
	return payload
}

func TestFormLifecycleFlow(testContext *testing.T) {
	testServer := newIntegrationServer(testContext)
	baseURL := testServer.URL

	registerResp := postJSON(testContext, baseURL+"/auth/register", nil, map[string]any{
		"email":    "owner@example.com",
		"password": "s3cret!",
		"name":     "Ada Lovelace",
	})
	if registerResp.StatusCode != http.StatusCreated {
		testContext.Fatalf("unexpected register status: %d", registerResp.StatusCode)
	}
	ownerCookie := sessionCookieFrom(testContext, registerResp)
	registerResp.Body.Close()

	createResp := postJSON(testContext, baseURL+"/forms", ownerCookie, map[string]any{
		"title":       "Conference Feedback",
		"description": "Tell us how it went",
		"fields": []map[string]any{
			{"id": "f1", "type": "text", "label": "Name", "required": true},
			{"id": "f2", "type": "checkbox", "label": "Sessions Attended", "options": []string{"keynote", "workshop"}},
		},
	})
	if createResp.StatusCode != http.StatusCreated {
		testContext.Fatalf("unexpected create status: %d", createResp.StatusCode)
	}
	created := decodeJSON(testContext, createResp)
	formID, _ := created["id"].(string)
	slug, _ := created["slug"].(string)
	if formID == "" || !strings.HasPrefix(slug, "conference-feedback-") {
		testContext.Fatalf("unexpected created form: %#v", created)
	}

	schemaResp := getJSON(testContext, baseURL+"/forms/"+slug, nil)
	if schemaResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected schema status: %d", schemaResp.StatusCode)
	}
	schema := decodeJSON(testContext, schemaResp)
	if schema["id"] != formID {
		testContext.Fatalf("schema does not match the created form: %#v", schema)
	}
	fields, _ := schema["fields"].([]any)
	if len(fields) != 2 {
		testContext.Fatalf("expected both fields in the schema, got %d", len(fields))
	}

	submitResp := postJSON(testContext, baseURL+"/forms/"+slug, nil, map[string]any{
		"data": map[string]any{
			"f1": "hello",
			"f2": []string{"keynote"},
		},
	})
	if submitResp.StatusCode != http.StatusCreated {
		testContext.Fatalf("unexpected submit status: %d", submitResp.StatusCode)
	}
	receipt := decodeJSON(testContext, submitResp)
	if submissionID, _ := receipt["submission_id"].(string); submissionID == "" {
		testContext.Fatalf("expected a submission id, got %#v", receipt)
	}

	rejectedResp := postJSON(testContext, baseURL+"/forms/"+slug, nil, map[string]any{
		"data": map[string]any{"f2": []string{"keynote"}},
	})
	if rejectedResp.StatusCode != http.StatusBadRequest {
		testContext.Fatalf("expected validation rejection, got %d", rejectedResp.StatusCode)
	}
	rejection := decodeJSON(testContext, rejectedResp)
	details, _ := rejection["details"].([]any)
	if len(details) != 1 || details[0] != "Name is required" {
		testContext.Fatalf("unexpected validation details: %#v", rejection)
	}

	listResp := getJSON(testContext, baseURL+"/forms/manage/"+formID+"/submissions", ownerCookie)
	if listResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected submissions status: %d", listResp.StatusCode)
	}
	listed := decodeJSON(testContext, listResp)
	submissions, _ := listed["submissions"].([]any)
	if len(submissions) != 1 {
		testContext.Fatalf("expected exactly the accepted submission, got %d", len(submissions))
	}
	entry, _ := submissions[0].(map[string]any)
	data, _ := entry["data"].(map[string]any)
	if data["f1"] != "hello" {
		testContext.Fatalf("stored submission lost data: %#v", entry)
	}

	statsResp := getJSON(testContext, baseURL+"/stats", ownerCookie)
	if statsResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected stats status: %d", statsResp.StatusCode)
	}
	stats := decodeJSON(testContext, statsResp)
	if stats["total_forms"] != float64(1) || stats["total_submissions"] != float64(1) {
		testContext.Fatalf("unexpected stats: %#v", stats)
	}

	deleteReq, err := http.NewRequest(http.MethodDelete, baseURL+"/forms/manage/"+formID, nil)
	if err != nil {
		testContext.Fatalf("failed to build delete request: %v", err)
	}
	deleteReq.AddCookie(ownerCookie)
	deleteResp, err := http.DefaultClient.Do(deleteReq)
	if err != nil {
		testContext.Fatalf("delete request failed: %v", err)
	}
	deleteResp.Body.Close()
	if deleteResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected delete status: %d", deleteResp.StatusCode)
	}

	goneResp := getJSON(testContext, baseURL+"/forms/"+slug, nil)
	goneResp.Body.Close()
	if goneResp.StatusCode != http.StatusNotFound {
		testContext.Fatalf("expected the deleted form to vanish, got %d", goneResp.StatusCode)
	}
}

func TestRestrictedFormFlow(testContext *testing.T) {
	testServer := newIntegrationServer(testContext)
	baseURL := testServer.URL

	registerOwner := postJSON(testContext, baseURL+"/auth/register", nil, map[string]any{
		"email":    "owner@example.com",
		"password": "s3cret!",
		"name":     "Owner",
	})
	if registerOwner.StatusCode != http.StatusCreated {
		testContext.Fatalf("unexpected register status: %d", registerOwner.StatusCode)
	}
	ownerCookie := sessionCookieFrom(testContext, registerOwner)
	registerOwner.Body.Close()

	createResp := postJSON(testContext, baseURL+"/forms", ownerCookie, map[string]any{
		"title":          "Team Retro",
		"privacy_tier":   "restricted_emails",
		"allowed_emails": []string{"Guest@Example.com"},
		"fields": []map[string]any{
			{"id": "f1", "type": "textarea", "label": "Thoughts", "required": true},
		},
	})
	if createResp.StatusCode != http.StatusCreated {
		testContext.Fatalf("unexpected create status: %d", createResp.StatusCode)
	}
	created := decodeJSON(testContext, createResp)
	slug, _ := created["slug"].(string)

	anonymousResp := getJSON(testContext, baseURL+"/forms/"+slug, nil)
	anonymousResp.Body.Close()
	if anonymousResp.StatusCode != http.StatusForbidden {
		testContext.Fatalf("expected anonymous denial, got %d", anonymousResp.StatusCode)
	}

	registerGuest := postJSON(testContext, baseURL+"/auth/register", nil, map[string]any{
		"email":    "guest@example.com",
		"password": "s3cret!",
		"name":     "Guest",
	})
	if registerGuest.StatusCode != http.StatusCreated {
		testContext.Fatalf("unexpected register status: %d", registerGuest.StatusCode)
	}
	guestCookie := sessionCookieFrom(testContext, registerGuest)
	registerGuest.Body.Close()

	guestResp := getJSON(testContext, baseURL+"/forms/"+slug, guestCookie)
	guestResp.Body.Close()
	if guestResp.StatusCode != http.StatusOK {
		testContext.Fatalf("listed guest should read the form, got %d", guestResp.StatusCode)
	}

	guestSubmit := postJSON(testContext, baseURL+"/forms/"+slug, guestCookie, map[string]any{
		"data": map[string]any{"f1": "went well"},
	})
	guestSubmit.Body.Close()
	if guestSubmit.StatusCode != http.StatusCreated {
		testContext.Fatalf("listed guest should submit, got %d", guestSubmit.StatusCode)
	}

	registerStranger := postJSON(testContext, baseURL+"/auth/register", nil, map[string]any{
		"email":    "stranger@example.com",
		"password": "s3cret!",
		"name":     "Stranger",
	})
	if registerStranger.StatusCode != http.StatusCreated {
		testContext.Fatalf("unexpected register status: %d", registerStranger.StatusCode)
	}
	strangerCookie := sessionCookieFrom(testContext, registerStranger)
	registerStranger.Body.Close()

	strangerResp := postJSON(testContext, baseURL+"/forms/"+slug, strangerCookie, map[string]any{
		"data": map[string]any{"f1": "let me in"},
	})
	strangerResp.Body.Close()
	if strangerResp.StatusCode != http.StatusForbidden {
		testContext.Fatalf("expected unlisted denial, got %d", strangerResp.StatusCode)
	}
}
