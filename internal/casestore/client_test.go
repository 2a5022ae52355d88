package casestore_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codeberg.org/mutker/ecgcapture/internal/casestore"
	"codeberg.org/mutker/ecgcapture/internal/errors"
	"codeberg.org/mutker/ecgcapture/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, h http.HandlerFunc) *casestore.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := casestore.New(casestore.Config{BaseURL: srv.URL, Token: "secret", Timeout: 5 * time.Second}, logger.Nop())
	require.NoError(t, err)
	return c
}

func TestCreateCase(t *testing.T) {
	measured := time.Date(2024, 2, 3, 4, 5, 6, 0, time.FixedZone("ICT", 7*3600))

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/cases", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body struct {
			PatientID  int       `json:"patientId"`
			MeasuredAt time.Time `json:"measuredAt"`
			Note       string    `json:"note"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 42, body.PatientID)
		assert.True(t, measured.Equal(body.MeasuredAt))
		assert.Equal(t, "ECG recording (01:30)", body.Note)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":17,"patientId":42}`))
	})

	id, err := c.CreateCase(context.Background(), "42", measured, "ECG recording (01:30)")
	require.NoError(t, err)
	assert.Equal(t, "17", id)
}

func TestCreateCaseRejectsNonNumericPatient(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := c.CreateCase(context.Background(), "abc", time.Now(), "")
	assert.True(t, errors.HasCode(err, casestore.ErrInvalidPatientID))
}

func TestUploadImage(t *testing.T) {
	payload := []byte{0xff, 0xd8, 0xff, 0xe0, 1, 2, 3}

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/cases/17/images", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		files := r.MultipartForm.File["files"]
		require.Len(t, files, 1)
		assert.Equal(t, "ECG_20240203_040506.jpg", files[0].Filename)
		assert.Equal(t, "image/jpeg", files[0].Header.Get("Content-Type"))

		f, err := files[0].Open()
		require.NoError(t, err)
		defer f.Close()
		got, _ := io.ReadAll(f)
		assert.Equal(t, payload, got)

		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, c.UploadImage(context.Background(), "17", payload, "ECG_20240203_040506.jpg"))
}

func TestDeleteCaseAndUpdateStatus(t *testing.T) {
	var calls []string
	var put map[string]any

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":42,"code":"BN042","name":"Tran Van A","dateOfBirth":"1961-05-02","gender":"male","isExamined":false,"note":"follow-up"}`))
			return
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&put))
		}
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.DeleteCase(context.Background(), "17"))
	require.NoError(t, c.UpdateStatus(context.Background(), "42", casestore.StatusExamined))
	assert.Equal(t, []string{"DELETE /api/cases/17", "GET /api/patients/42", "PUT /api/patients/42"}, calls)

	assert.Equal(t, true, put["isExamined"])
	assert.Equal(t, "Tran Van A", put["name"])
	assert.Equal(t, "1961-05-02", put["dateOfBirth"])
	assert.Equal(t, "male", put["gender"])
	assert.Equal(t, "follow-up", put["note"])
}

func TestUpdateStatusUnknownPatient(t *testing.T) {
	var puts int
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			puts++
		}
		w.WriteHeader(http.StatusNotFound)
	})

	err := c.UpdateStatus(context.Background(), "404", casestore.StatusExamined)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, casestore.ErrRejected))
	assert.Zero(t, puts)
}

func TestAPIErrorIsDecoded(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"validation","title":"Bad file","status":400,"detail":"File too large"}`))
	})

	err := c.UploadImage(context.Background(), "17", []byte{1}, "a.jpg")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, casestore.ErrRejected))

	var apiErr *casestore.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 400, apiErr.Status)
	assert.Equal(t, "Bad file", apiErr.Title)
	assert.Equal(t, "File too large", apiErr.Detail)
}

func TestMessageErrorBodyIsDecoded(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"PatientId does not exist."}`))
	})

	_, err := c.CreateCase(context.Background(), "42", time.Now(), "note")
	require.Error(t, err)

	var apiErr *casestore.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "PatientId does not exist.", apiErr.Message)
	assert.Empty(t, apiErr.Detail)
	assert.Equal(t, "400 PatientId does not exist.", apiErr.Error())
}

func TestNonJSONErrorBody(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusBadGateway)
	})

	err := c.DeleteCase(context.Background(), "5")
	var apiErr *casestore.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "gateway down", apiErr.Detail)
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := casestore.New(casestore.Config{BaseURL: url, Timeout: time.Second}, logger.Nop())
	require.NoError(t, err)

	_, err = c.CreateCase(context.Background(), "1", time.Now(), "")
	assert.True(t, errors.HasCode(err, casestore.ErrTransport))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, casestore.DefaultConfig().Validate())
	assert.Error(t, casestore.Config{BaseURL: "ftp://x", Timeout: time.Second}.Validate())
	assert.Error(t, casestore.Config{BaseURL: "http://x"}.Validate())
}
