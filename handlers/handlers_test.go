package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"locoinspect/auth"
	"locoinspect/backend"
	"locoinspect/controller"
	"locoinspect/db"
	"locoinspect/models"
	"locoinspect/photos"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	handler http.Handler
	store   *db.MemoryDB
	ctrl    *controller.Controller
}

func setupServer(t *testing.T) *testServer {
	t.Helper()

	hash, err := auth.HashPassword("password")
	require.NoError(t, err)

	store := db.NewMemoryDB()
	require.NoError(t, store.InsertUsers(context.Background(), []models.User{
		{ID: "1", Username: "Super Admin", HRMSID: "ADMINX", Password: hash, Role: models.RoleAdmin},
		{ID: "2", Username: "S. Kumar", HRMSID: "KUMARS", Role: models.RoleTechnician},
	}))

	photoStore, err := photos.NewLocalStore(t.TempDir(), "loco-photos", "http://localhost/photos")
	require.NoError(t, err)

	state := controller.NewState()
	client := backend.NewClient(store, photoStore, store, zap.NewNop(), backend.WithStatusHook(state.ReportStatus))
	ctrl := controller.New(client, state, zap.NewNop(), controller.Options{Location: time.UTC})
	ctrl.Start(context.Background())
	t.Cleanup(ctrl.Close)

	require.Eventually(t, func() bool {
		return state.UsersLoaded() && store.Watchers(models.InspectionsTable) == 1
	}, time.Second, 5*time.Millisecond)

	mux := http.NewServeMux()
	RegisterRoutes(mux, Deps{
		Controller: ctrl,
		JWT:        auth.NewJWTManager("test-secret", time.Hour, 2*time.Hour),
		AppName:    "LocoInspect Cloud",
		Logger:     zap.NewNop(),
	})
	return &testServer{handler: mux, store: store, ctrl: ctrl}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T, user, password string) LoginResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/login", "", LoginRequest{User: user, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestLoginUsers_HidesPasswords(t *testing.T) {
	s := setupServer(t)
	rec := s.do(t, http.MethodGet, "/api/login/users", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"hrms_id":"KUMARS"`)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.NotContains(t, rec.Body.String(), "$2a$")
}

func TestLogin(t *testing.T) {
	s := setupServer(t)

	rec := s.do(t, http.MethodPost, "/api/login", "", LoginRequest{User: "1", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Incorrect password. Please try again.", errorMessage(t, rec))

	rec = s.do(t, http.MethodPost, "/api/login", "", LoginRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Please select a user.", errorMessage(t, rec))

	rec = s.do(t, http.MethodGet, "/api/login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	resp := s.login(t, "KUMARS", "whatever")
	assert.Equal(t, "2", resp.User.ID)
	assert.Equal(t, models.ViewDashboard, resp.Session.View)
	assert.Equal(t, "Live", resp.Session.Banner)
}

func TestRefreshAndLogout(t *testing.T) {
	s := setupServer(t)
	resp := s.login(t, "1", "password")

	rec := s.do(t, http.MethodPost, "/api/refresh", "", RefreshTokenRequest{RefreshToken: resp.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/refresh", "", RefreshTokenRequest{RefreshToken: resp.Token})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/logout", resp.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/session", resp.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/refresh", "", RefreshTokenRequest{RefreshToken: resp.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNavigate_UserManagementGuard(t *testing.T) {
	s := setupServer(t)
	tech := s.login(t, "2", "")

	rec := s.do(t, http.MethodPost, "/api/navigate", tech.Token, NavigateRequest{View: models.ViewUserManagement})
	require.Equal(t, http.StatusOK, rec.Code)
	var view controller.SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, models.ViewDashboard, view.View)

	rec = s.do(t, http.MethodPost, "/api/navigate", tech.Token, NavigateRequest{View: "NOWHERE"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/users", tech.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestInspectionLifecycle(t *testing.T) {
	s := setupServer(t)
	tech := s.login(t, "2", "")
	fields := map[string]string{"loco_number": "37210", "base_shed": "BSL", "schedule": "IA", "pantograph_number": "P-1"}

	rec := s.do(t, http.MethodPost, "/api/inspections/submit", tech.Token, fields)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/navigate", tech.Token, NavigateRequest{View: models.ViewNewInspection})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/inspections/submit", tech.Token, fields)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Please capture or upload a photo.", errorMessage(t, rec))

	// Multipart upload of a raw photo.
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("photo", "loco.jpg")
	require.NoError(t, err)
	part.Write([]byte{0xff, 0xd8, 0xff})
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/inspections/photo", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tech.Token)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"state":"review"`)

	rec = s.do(t, http.MethodPost, "/api/inspections/photo/confirm", tech.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/inspections/submit", tech.Token, fields)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var saved models.Inspection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	assert.Equal(t, models.SyncStatusSynced, saved.SyncStatus)

	require.Eventually(t, func() bool {
		return len(s.ctrl.State().Inspections()) == 1
	}, time.Second, 5*time.Millisecond)

	rec = s.do(t, http.MethodGet, "/api/inspections?loco=372", tech.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list InspectionListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	rec = s.do(t, http.MethodGet, "/api/inspections?date=05-03-2024", tech.Token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/inspections/export?format=csv", tech.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "Loco_Filtered_Data_")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Loco Number,Base Shed"))
	assert.Contains(t, rec.Body.String(), `"S. Kumar (KUMARS)"`)

	rec = s.do(t, http.MethodGet, "/api/inspections/export?format=html&loco=999", tech.Token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/inspections/delete?id="+saved.ID, tech.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := s.login(t, "ADMINX", "password")
	rec = s.do(t, http.MethodDelete, "/api/inspections/delete", admin.Token, DeleteInspectionRequest{ID: saved.ID})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPhotoRetake(t *testing.T) {
	s := setupServer(t)
	tech := s.login(t, "2", "")

	rec := s.do(t, http.MethodPost, "/api/inspections/photo", tech.Token, SelectPhotoRequest{Photo: "data:image/jpeg;base64,AAAA"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/inspections/photo/retake", tech.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"picking"`)

	rec = s.do(t, http.MethodPost, "/api/inspections/photo/confirm", tech.Token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserManagement(t *testing.T) {
	s := setupServer(t)
	admin := s.login(t, "1", "password")

	rec := s.do(t, http.MethodPost, "/api/users/create", admin.Token, map[string]string{
		"username": "Dup", "hrms_id": "kumars", "password": "1234",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "This HRMS ID is already assigned to another user.", errorMessage(t, rec))

	rec = s.do(t, http.MethodPost, "/api/users/create", admin.Token, map[string]string{
		"username": "P. Das", "hrms_id": "daspxy", "password": "123",
	})
	assert.Equal(t, "Password must be at least 4 characters long.", errorMessage(t, rec))

	rec = s.do(t, http.MethodPost, "/api/users/create", admin.Token, map[string]string{
		"username": "P. Das", "hrms_id": "daspxy", "password": "1234", "role": "officer",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.PublicUser
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "DASPXY", created.HRMSID)
	assert.Equal(t, models.RoleOfficer, created.Role)

	rec = s.do(t, http.MethodPost, "/api/users/reset-password", admin.Token, ResetPasswordRequest{UserID: created.ID, NewPassword: "ab"})
	assert.Equal(t, "Password must be at least 4 characters.", errorMessage(t, rec))

	rec = s.do(t, http.MethodPut, "/api/users/update", admin.Token, map[string]string{"user_id": created.ID, "role": "supervisor"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodDelete, "/api/users/delete", admin.Token, DeleteUserRequest{UserID: "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "You cannot delete your own account.", errorMessage(t, rec))

	rec = s.do(t, http.MethodDelete, "/api/users/delete", admin.Token, DeleteUserRequest{UserID: created.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		_, found := s.ctrl.State().FindUser(created.ID)
		return !found
	}, time.Second, 5*time.Millisecond)
}

func TestDeleteUser_EndsTheirSessions(t *testing.T) {
	s := setupServer(t)
	admin := s.login(t, "1", "password")
	tech := s.login(t, "KUMARS", "")

	rec := s.do(t, http.MethodDelete, "/api/users/delete", admin.Token, DeleteUserRequest{UserID: "2"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/inspections/export?format=csv", tech.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Session expired. Please log in again.", errorMessage(t, rec))
}

func TestChangePassword(t *testing.T) {
	s := setupServer(t)
	admin := s.login(t, "1", "password")

	rec := s.do(t, http.MethodPost, "/api/profile/password", admin.Token, map[string]string{
		"current_password": "password", "new_password": "abcd", "confirm_password": "abce",
	})
	assert.Equal(t, "Passwords do not match.", errorMessage(t, rec))

	rec = s.do(t, http.MethodPost, "/api/profile/password", admin.Token, map[string]string{
		"current_password": "password", "new_password": "abcd", "confirm_password": "abcd",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		rec := s.do(t, http.MethodPost, "/api/login", "", LoginRequest{User: "1", Password: "abcd"})
		return rec.Code == http.StatusOK
	}, time.Second, 10*time.Millisecond)
}

func TestEvents_StreamsSnapshots(t *testing.T) {
	s := setupServer(t)
	tech := s.login(t, "2", "")

	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events?token="+tech.Token, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
				events <- name
			}
		}
		close(events)
	}()

	next := func() string {
		select {
		case name := <-events:
			return name
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
			return ""
		}
	}

	assert.Equal(t, "session", next())
	assert.Equal(t, "inspections", next())
	assert.Equal(t, "users", next())

	s.ctrl.Logout(tech.Session.ID)
	s.ctrl.State().SetUsers(s.ctrl.State().Users())
	for {
		if name := next(); name == "logout" {
			return
		}
	}
}

func TestEvents_KeepAliveDoesNotResend(t *testing.T) {
	interval := keepAliveInterval
	keepAliveInterval = 10 * time.Millisecond
	t.Cleanup(func() { keepAliveInterval = interval })

	s := setupServer(t)
	tech := s.login(t, "2", "")

	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events?token="+tech.Token, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	lines := make(chan string, 256)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			default:
			}
		}
		close(lines)
	}()

	events, keepAlives := 0, 0
	deadline := time.After(2 * time.Second)
	for keepAlives < 5 {
		select {
		case line := <-lines:
			switch {
			case strings.HasPrefix(line, "event: "):
				events++
			case line == ": keep-alive":
				keepAlives++
			}
		case <-deadline:
			t.Fatalf("saw %d keep-alives before timing out", keepAlives)
		}
	}
	assert.Equal(t, 3, events)
}

func TestHealth(t *testing.T) {
	s := setupServer(t)
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}
