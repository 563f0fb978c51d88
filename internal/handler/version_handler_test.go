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

	"github.com/kestrel-research/rdm-api/internal/models"
	appErrors "github.com/kestrel-research/rdm-api/pkg/errors"
)

type versionServiceMock struct {
	study *models.Study
	err   error
}

func (m *versionServiceMock) GetStudy(ctx context.Context, studyID string) (*models.Study, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.study, nil
}

func (m *versionServiceMock) CreateCheckpoint(ctx context.Context, studyID string, version, contentID string, tag *string) (*models.DataVersion, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.DataVersion{ID: "ver-new", StudyID: studyID, Version: version, ContentID: contentID, Tag: tag}, nil
}

func TestVersionHandlerList(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &versionServiceMock{study: &models.Study{
		ID:                 "study-1",
		CurrentDataVersion: 0,
		DataVersions:       []models.DataVersion{{ID: "ver-1", Position: 0}},
	}}
	h := NewVersionHandler(mock)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/studies/study-1/versions", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "studyId", Value: "study-1"}}

	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data []models.DataVersion   `json:"data"`
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 1)
	assert.Equal(t, float64(0), envelope.Meta["current_data_version"])
}

func TestVersionHandlerListNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewVersionHandler(&versionServiceMock{err: appErrors.ErrNotFound})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/studies/missing/versions", nil)
	c.Request = req

	h.List(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestVersionHandlerCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewVersionHandler(&versionServiceMock{})

	body, _ := json.Marshal(CheckpointRequest{Version: "2", ContentID: "content-2"})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/studies/study-1/versions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "studyId", Value: "study-1"}}

	h.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)

	var envelope struct {
		Data models.DataVersion `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "ver-new", envelope.Data.ID)
	assert.Equal(t, "2", envelope.Data.Version)
}

func TestVersionHandlerCreateMissingContentID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewVersionHandler(&versionServiceMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/studies/study-1/versions", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	h.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
