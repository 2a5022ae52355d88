// Package casestore talks to the remote record store over its JSON API.
package casestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/ecgcapture/internal/errors"
	"codeberg.org/mutker/ecgcapture/internal/logger"
)

// StatusExamined is the only patient status the capture client sets.
const StatusExamined = "examined"

type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	logger logger.Logger
}

type createCaseRequest struct {
	PatientID  int       `json:"patientId"`
	MeasuredAt time.Time `json:"measuredAt"`
	Note       string    `json:"note"`
}

type caseResponse struct {
	ID int `json:"id"`
}

func New(cfg Config, log logger.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base, _ := url.Parse(cfg.BaseURL)
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	return &Client{
		base:   base,
		token:  cfg.Token,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: log,
	}, nil
}

// CreateCase registers a new case and returns its id.
func (c *Client) CreateCase(ctx context.Context, patientID string, measuredAt time.Time, note string) (string, error) {
	errFactory := errors.New()

	pid, err := strconv.Atoi(patientID)
	if err != nil {
		return "", errFactory.WithData(ErrInvalidPatientID, patientID)
	}

	body, err := json.Marshal(createCaseRequest{PatientID: pid, MeasuredAt: measuredAt.UTC(), Note: note})
	if err != nil {
		return "", errFactory.Wrap(errors.ErrInternal, err)
	}

	var out caseResponse
	if err := c.do(ctx, http.MethodPost, "api/cases", "application/json", bytes.NewReader(body), &out, "CreateCase"); err != nil {
		return "", err
	}

	return strconv.Itoa(out.ID), nil
}

// UploadImage posts data as the "files" part of a multipart form.
func (c *Client) UploadImage(ctx context.Context, caseID string, data []byte, filename string) error {
	errFactory := errors.New()

	if _, err := strconv.Atoi(caseID); err != nil {
		return errFactory.WithData(ErrInvalidCaseID, caseID)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, filename))
	h.Set("Content-Type", contentType(filename))

	part, err := mw.CreatePart(h)
	if err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}
	if _, err := part.Write(data); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}
	if err := mw.Close(); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := c.do(ctx, http.MethodPost, "api/cases/"+caseID+"/images", mw.FormDataContentType(), &buf, nil, "UploadImage"); err != nil {
		return err
	}

	c.logger.Info().Str("case_id", caseID).Str("file", filename).Int("bytes", len(data)).Msg("[AUDIT] Uploaded image for case")
	return nil
}

func (c *Client) DeleteCase(ctx context.Context, caseID string) error {
	if _, err := strconv.Atoi(caseID); err != nil {
		return errors.New().WithData(ErrInvalidCaseID, caseID)
	}

	return c.do(ctx, http.MethodDelete, "api/cases/"+caseID, "", nil, nil, "DeleteCase")
}

// UpdateStatus marks the patient. The record store replaces the whole
// patient on PUT, so the current record is read and written back with only
// isExamined changed. Only StatusExamined has a remote representation.
func (c *Client) UpdateStatus(ctx context.Context, patientID, status string) error {
	errFactory := errors.New()

	if _, err := strconv.Atoi(patientID); err != nil {
		return errFactory.WithData(ErrInvalidPatientID, patientID)
	}

	path := "api/patients/" + patientID

	var record map[string]json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, "", nil, &record, "GetPatient"); err != nil {
		return err
	}
	if len(record) == 0 {
		return errFactory.WithData(ErrDecodeResponse, "empty patient record for "+patientID)
	}

	record["isExamined"] = json.RawMessage(strconv.FormatBool(status == StatusExamined))

	body, err := json.Marshal(record)
	if err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return c.do(ctx, http.MethodPut, path, "application/json", bytes.NewReader(body), nil, "UpdateStatus")
}

func (c *Client) do(ctx context.Context, method, path, ctype string, body io.Reader, out any, op string) error {
	errFactory := errors.New()

	ref, err := url.Parse(path)
	if err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.ResolveReference(ref).String(), body)
	if err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}
	if ctype != "" {
		req.Header.Set("Content-Type", ctype)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("operation", op).Msg("Record store unreachable")
		return errFactory.Wrap(ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := readAPIError(resp)
		c.logger.Warn().
			Str("operation", op).
			Int("status", resp.StatusCode).
			Str("title", apiErr.Title).
			Str("detail", apiErr.Detail).
			Str("message", apiErr.Message).
			Msg("Record store rejected request")
		return errFactory.Wrap(ErrRejected, apiErr)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errFactory.Wrap(ErrDecodeResponse, err)
	}
	return nil
}

func readAPIError(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	apiErr := &APIError{}
	if err := json.Unmarshal(raw, apiErr); err != nil || (apiErr.Title == "" && apiErr.Detail == "" && apiErr.Message == "") {
		apiErr = &APIError{Detail: strings.TrimSpace(string(raw))}
	}
	if apiErr.Status == 0 {
		apiErr.Status = resp.StatusCode
	}
	return apiErr
}

func contentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	}
	return "image/jpeg"
}
