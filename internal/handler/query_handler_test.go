package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-research/rdm-api/internal/middleware"
	"github.com/kestrel-research/rdm-api/internal/models"
	"github.com/kestrel-research/rdm-api/internal/service"
	appErrors "github.com/kestrel-research/rdm-api/pkg/errors"
)

type queryServiceMock struct {
	payload        json.RawMessage
	hit            bool
	err            error
	fields         []models.Field
	lastStudy      string
	lastWrite      *service.WriteRequest
	lastFieldWrite *service.WriteFieldsRequest
}

func (m *queryServiceMock) GetData(ctx context.Context, user *models.User, studyID string, req service.QueryRequest) (json.RawMessage, bool, error) {
	m.lastStudy = studyID
	if m.err != nil {
		return nil, false, m.err
	}
	return m.payload, m.hit, nil
}

func (m *queryServiceMock) GetFields(ctx context.Context, user *models.User, studyID string, projectID, versionID *string) ([]models.Field, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.fields, nil
}

func (m *queryServiceMock) WriteData(ctx context.Context, user *models.User, studyID string, req service.WriteRequest) error {
	m.lastWrite = &req
	return m.err
}

func (m *queryServiceMock) WriteFields(ctx context.Context, user *models.User, studyID string, req service.WriteFieldsRequest) error {
	m.lastFieldWrite = &req
	return m.err
}

func (m *queryServiceMock) DeleteData(ctx context.Context, user *models.User, studyID string, req service.DeleteRequest) error {
	return m.err
}

func newQueryTestContext(t *testing.T, method, path string, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "studyId", Value: "study-1"}}
	c.Set(middleware.ContextUserKey, &models.User{ID: "user-1"})
	return c, w
}

func TestQueryHandlerQuery(t *testing.T) {
	mock := &queryServiceMock{payload: json.RawMessage(`[{"subject_id":"subj-01"}]`), hit: true}
	h := NewQueryHandler(mock, nil)

	c, w := newQueryTestContext(t, http.MethodPost, "/studies/study-1/query", service.QueryRequest{})
	h.Query(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "study-1", mock.lastStudy)

	var envelope struct {
		Data []map[string]interface{} `json:"data"`
		Meta map[string]interface{}   `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 1)
	assert.Equal(t, true, envelope.Meta["cache_hit"])
}

func TestQueryHandlerQueryInvalidBody(t *testing.T) {
	h := NewQueryHandler(&queryServiceMock{}, nil)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/studies/study-1/query", bytes.NewReader([]byte(`not json`)))
	c.Request = req

	h.Query(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryHandlerQueryDenied(t *testing.T) {
	h := NewQueryHandler(&queryServiceMock{err: appErrors.ErrDenied}, nil)

	c, w := newQueryTestContext(t, http.MethodPost, "/studies/study-1/query", service.QueryRequest{})
	h.Query(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestQueryHandlerWriteData(t *testing.T) {
	mock := &queryServiceMock{}
	h := NewQueryHandler(mock, nil)

	body := service.WriteRequest{Entries: []service.WriteEntry{
		{SubjectID: "subj-01", VisitID: "visit-1", FieldID: "bp_sys", Value: 120.0},
	}}
	c, w := newQueryTestContext(t, http.MethodPost, "/studies/study-1/data", body)
	h.WriteData(c)

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, mock.lastWrite)
	assert.Len(t, mock.lastWrite.Entries, 1)
}

func TestQueryHandlerWriteFields(t *testing.T) {
	mock := &queryServiceMock{}
	h := NewQueryHandler(mock, nil)

	body := service.WriteFieldsRequest{Entries: []service.FieldEntry{
		{FieldID: "spo2", FieldName: "Oxygen saturation", DataType: "number"},
	}}
	c, w := newQueryTestContext(t, http.MethodPost, "/studies/study-1/fields", body)
	h.WriteFields(c)

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, mock.lastFieldWrite)
	assert.Len(t, mock.lastFieldWrite.Entries, 1)
}

func TestQueryHandlerDeleteData(t *testing.T) {
	h := NewQueryHandler(&queryServiceMock{}, nil)

	body := service.DeleteRequest{Entries: []service.DeleteEntry{
		{SubjectID: "subj-01", VisitID: "visit-1", FieldID: "bp_sys"},
	}}
	c, w := newQueryTestContext(t, http.MethodDelete, "/studies/study-1/data", body)
	h.DeleteData(c)
	c.Writer.WriteHeaderNow()

	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestQueryHandlerGetFields(t *testing.T) {
	mock := &queryServiceMock{fields: []models.Field{{FieldID: "bp_sys", FieldName: "Systolic blood pressure"}}}
	h := NewQueryHandler(mock, nil)

	c, w := newQueryTestContext(t, http.MethodGet, "/studies/study-1/fields?versionId=ver-1", nil)
	h.GetFields(c)

	require.Equal(t, http.StatusOK, w.Code)
	var envelope struct {
		Data []models.Field `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 1)
	assert.Equal(t, "bp_sys", envelope.Data[0].FieldID)
}
