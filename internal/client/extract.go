package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

// Source is one multimodal input: extracted text and, optionally, the
// structured payload an earlier step already produced from it.
type Source struct {
	Text       string          `json:"text,omitempty"`
	Structured json.RawMessage `json:"structured,omitempty"`
}

func (s *Source) present() bool {
	return s != nil && (strings.TrimSpace(s.Text) != "" || len(s.Structured) > 0)
}

// File is a raw document for /api/upload.
type File struct {
	Name    string
	Content io.Reader
}

// ExtractRequest carries every input channel. Dispatch picks exactly one
// endpoint: fusion when any multimodal source is present, else upload when a
// file is attached, else plain-text extraction.
type ExtractRequest struct {
	Audio    *Source
	Image    *Source
	Document *Source
	Text     *Source

	File *File

	PlainText string
}

// Endpoint names the route an ExtractRequest dispatches to.
type Endpoint string

const (
	EndpointFuse    Endpoint = "/api/multimodal/fuse"
	EndpointUpload  Endpoint = "/api/upload"
	EndpointExtract Endpoint = "/api/extract"
)

// Route reports which endpoint Extract would call.
func (r ExtractRequest) Route() (Endpoint, error) {
	switch {
	case r.Audio.present() || r.Image.present() || r.Document.present() || r.Text.present():
		return EndpointFuse, nil
	case r.File != nil:
		if r.File.Content == nil {
			return "", fmt.Errorf("extract: file %q has no content", r.File.Name)
		}
		return EndpointUpload, nil
	case strings.TrimSpace(r.PlainText) != "":
		return EndpointExtract, nil
	default:
		return "", fmt.Errorf("extract: no input provided")
	}
}

// fusionBody attaches a source's fields only when they are present.
func (r ExtractRequest) fusionBody() map[string]any {
	body := map[string]any{}
	for name, src := range map[string]*Source{
		"audio":    r.Audio,
		"image":    r.Image,
		"document": r.Document,
		"text":     r.Text,
	} {
		if !src.present() {
			continue
		}
		if src.Text != "" {
			body[name+"_text"] = src.Text
		}
		if len(src.Structured) > 0 {
			body[name+"_cdm"] = src.Structured
		}
	}
	return body
}

// ExtractStatus classifies an extraction response.
type ExtractStatus string

const (
	StatusSuccess            ExtractStatus = "success"
	StatusIrrelevantDocument ExtractStatus = "irrelevant_document"
	StatusError              ExtractStatus = "error"
	StatusPartialDataMissing ExtractStatus = "partial_data_missing"
)

// ExtractResult is the classified backend response. Agreement is the CDM
// payload, kept opaque.
type ExtractResult struct {
	Endpoint  Endpoint
	Status    ExtractStatus
	Message   string
	Agreement json.RawMessage
	Raw       json.RawMessage
}

// UserMessage is the banner text shown for the result.
func (r ExtractResult) UserMessage() string {
	switch r.Status {
	case StatusIrrelevantDocument:
		return orMessage(r.Message, "This document does not appear to be a credit agreement.")
	case StatusError:
		return orMessage(r.Message, "Extraction failed. Please try again.")
	case StatusPartialDataMissing:
		return orMessage(r.Message, "Some fields could not be extracted. Review and complete them before saving.")
	default:
		return "Extraction completed successfully."
	}
}

func orMessage(msg, fallback string) string {
	if strings.TrimSpace(msg) != "" {
		return msg
	}
	return fallback
}

type extractWire struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	Agreement json.RawMessage `json:"agreement"`
	CDM       json.RawMessage `json:"cdm"`
}

func classifyExtract(endpoint Endpoint, data []byte) (ExtractResult, error) {
	var wire extractWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return ExtractResult{}, fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	res := ExtractResult{Endpoint: endpoint, Message: wire.Message, Agreement: wire.Agreement, Raw: data}
	if len(res.Agreement) == 0 {
		res.Agreement = wire.CDM
	}
	switch ExtractStatus(wire.Status) {
	case StatusIrrelevantDocument, StatusError, StatusPartialDataMissing:
		res.Status = ExtractStatus(wire.Status)
	default:
		res.Status = StatusSuccess
	}
	return res, nil
}

// Extract dispatches req to exactly one endpoint and classifies the answer.
// A non-2xx response is returned as *HTTPError; there are no retries.
func (c *Client) Extract(ctx context.Context, req ExtractRequest) (ExtractResult, error) {
	endpoint, err := req.Route()
	if err != nil {
		return ExtractResult{}, err
	}

	var body io.Reader
	var contentType string
	switch endpoint {
	case EndpointFuse:
		data, err := json.Marshal(req.fusionBody())
		if err != nil {
			return ExtractResult{}, fmt.Errorf("encode fusion request: %w", err)
		}
		body, contentType = bytes.NewReader(data), "application/json"
	case EndpointUpload:
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("file", req.File.Name)
		if err != nil {
			return ExtractResult{}, fmt.Errorf("build upload: %w", err)
		}
		if _, err := io.Copy(part, req.File.Content); err != nil {
			return ExtractResult{}, fmt.Errorf("read upload %s: %w", req.File.Name, err)
		}
		if err := mw.Close(); err != nil {
			return ExtractResult{}, fmt.Errorf("build upload: %w", err)
		}
		body, contentType = &buf, mw.FormDataContentType()
	default:
		data, err := json.Marshal(map[string]string{"text": req.PlainText})
		if err != nil {
			return ExtractResult{}, fmt.Errorf("encode extract request: %w", err)
		}
		body, contentType = bytes.NewReader(data), "application/json"
	}

	resp, err := c.fetchWithAuth(ctx, http.MethodPost, string(endpoint), nil, body, contentType)
	if err != nil {
		return ExtractResult{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return ExtractResult{}, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	return classifyExtract(endpoint, data)
}
