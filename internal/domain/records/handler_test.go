package records

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
)

type failingDiagnosisRepo struct {
	DiagnosisRepository
	err error
}

func (f *failingDiagnosisRepo) GetByID(_ context.Context, _ uuid.UUID) (*Diagnosis, error) {
	return nil, f.err
}

func newTestServer(diags DiagnosisRepository, notes NoteRepository) *echo.Echo {
	e := echo.New()
	api := e.Group("/api/v1", auth.DevAuthMiddleware())
	NewHandler(NewService(diags, notes)).RegisterRoutes(api)
	return e
}

func doPut(e *echo.Echo, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPut, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestUpdateDiagnosisEndpoint_NotFound(t *testing.T) {
	e := newTestServer(
		&mockDiagnosisRepo{items: make(map[uuid.UUID]*Diagnosis)},
		&mockNoteRepo{items: make(map[uuid.UUID]*ClinicalNote)},
	)
	rec := doPut(e, "/api/v1/diagnoses/"+uuid.NewString(), `{"description":"updated"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// A repository failure is not a missing diagnosis; it must surface as a 500.
func TestUpdateDiagnosisEndpoint_RepoFailure(t *testing.T) {
	e := newTestServer(
		&failingDiagnosisRepo{err: errors.New("connection refused")},
		&mockNoteRepo{items: make(map[uuid.UUID]*ClinicalNote)},
	)
	rec := doPut(e, "/api/v1/diagnoses/"+uuid.NewString(), `{"description":"updated"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestUpdateNoteEndpoint_NotFound(t *testing.T) {
	e := newTestServer(
		&mockDiagnosisRepo{items: make(map[uuid.UUID]*Diagnosis)},
		&mockNoteRepo{items: make(map[uuid.UUID]*ClinicalNote)},
	)
	rec := doPut(e, "/api/v1/notes/"+uuid.NewString(), `{"body":"updated"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
