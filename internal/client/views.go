package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// Note is a comment attached to a deal.
type Note struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Deal, pool and document bodies are owned by the backend and passed through
// as raw JSON.

func (c *Client) GetDeal(ctx context.Context, id string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.get(ctx, "/api/deals/"+seg(id), nil, &out)
	return out, err
}

func (c *Client) DealNotes(ctx context.Context, dealID string) ([]Note, error) {
	var out []Note
	err := c.get(ctx, "/api/deals/"+seg(dealID)+"/notes", nil, &out)
	return out, err
}

// AddDealNote rejects blank notes before calling the server.
func (c *Client) AddDealNote(ctx context.Context, dealID, content string) (Note, error) {
	if strings.TrimSpace(content) == "" {
		return Note{}, fmt.Errorf("note content is required")
	}
	var out Note
	err := c.post(ctx, "/api/deals/"+seg(dealID)+"/notes", map[string]string{"content": content}, &out)
	return out, err
}

func (c *Client) GetPool(ctx context.Context, id string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.get(ctx, "/api/securitization/pools/"+seg(id), nil, &out)
	return out, err
}

func (c *Client) ListDocuments(ctx context.Context) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := c.get(ctx, "/api/documents", nil, &out)
	return out, err
}

// WorkflowAction posts action (submit, approve, reject, ...) for a document.
// body may be nil.
func (c *Client) WorkflowAction(ctx context.Context, documentID, action string, body any) (json.RawMessage, error) {
	if strings.TrimSpace(action) == "" {
		return nil, fmt.Errorf("workflow action is required")
	}
	var out json.RawMessage
	err := c.post(ctx, "/api/documents/"+seg(documentID)+"/workflow/"+seg(action), body, &out)
	return out, err
}

// Download is a fetched file.
type Download struct {
	Filename    string
	ContentType string
	Size        int64
}

// download streams a file body into w. The filename comes from
// Content-Disposition, falling back to fallback.
func (c *Client) download(ctx context.Context, p string, query url.Values, w io.Writer, fallback string) (Download, error) {
	resp, err := c.fetchWithAuth(ctx, http.MethodGet, p, query, nil, "")
	if err != nil {
		return Download{}, err
	}
	defer resp.Body.Close()

	d := Download{Filename: fallback, ContentType: resp.Header.Get("Content-Type")}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		d.Filename = path.Base(params["filename"])
	}
	if d.Size, err = io.Copy(w, resp.Body); err != nil {
		return Download{}, fmt.Errorf("download %s: %w", p, err)
	}
	return d, nil
}

// ExportDocument downloads a generated document; format is e.g. "docx",
// "pdf" or "json".
func (c *Client) ExportDocument(ctx context.Context, id, format string, w io.Writer) (Download, error) {
	q := url.Values{}
	if format != "" {
		q.Set("format", format)
	}
	fallback := "document-" + id
	if format != "" {
		fallback += "." + format
	}
	return c.download(ctx, "/api/generated-documents/"+seg(id)+"/export", q, w, fallback)
}

// MeetingICS downloads a calendar invite.
func (c *Client) MeetingICS(ctx context.Context, meetingID string, w io.Writer) (Download, error) {
	return c.download(ctx, "/api/meetings/"+seg(meetingID)+"/ics", nil, w, "meeting-"+meetingID+".ics")
}
