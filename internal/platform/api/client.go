package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Client talks to the records backend: reference lists, resource snapshots
// and the multipart resource update. Authentication is an opaque bearer
// token passed through from configuration. The client speaks wire types
// only; mapping into session state happens in the domain packages.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

func New(baseURL, token string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// ReferenceItem is one reference-list entry on the wire.
type ReferenceItem struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
}

// Image is one server-side image of a resource.
type Image struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

// Snapshot is the server copy of a resource as the backend returns it.
type Snapshot struct {
	Scalars         map[string]string `json:"scalars"`
	SingleReference *ReferenceItem    `json:"single_reference,omitempty"`
	References      []ReferenceItem   `json:"references"`
	Images          []Image           `json:"images"`
}

// Upload is one new image binary to transmit with an update.
type Upload struct {
	Data []byte
	MIME string
}

// Update is the full content of a resource update request.
type Update struct {
	Kind             string
	ResourceID       string
	Scalars          map[string]string
	SingleReference  *ReferenceItem
	ReferenceIDs     []int64
	RetainedImageIDs []int64
	Uploads          []Upload
}

// UpdateResult is the backend's answer to a resource update.
type UpdateResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("records api: build %s %s: %w", method, path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("records api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("records api call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("records api: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("records api: decode %s %s: %w", method, path, err)
	}
	return nil
}

// ListReferenceItems fetches the reference list for a kind (doctors,
// symptoms, test names).
func (c *Client) ListReferenceItems(ctx context.Context, kind string) ([]ReferenceItem, error) {
	var items []ReferenceItem
	if err := c.do(ctx, http.MethodGet, "/reference-lists/"+kind, nil, "", &items); err != nil {
		return nil, err
	}
	return items, nil
}

// CreateReferenceItem adds a new entry to a reference list.
func (c *Client) CreateReferenceItem(ctx context.Context, kind, description string) (*ReferenceItem, error) {
	body, err := json.Marshal(map[string]string{"description": description})
	if err != nil {
		return nil, fmt.Errorf("records api: encode reference item: %w", err)
	}
	var item ReferenceItem
	if err := c.do(ctx, http.MethodPost, "/reference-lists/"+kind, bytes.NewReader(body), "application/json", &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// GetResource fetches the server snapshot of a resource.
func (c *Client) GetResource(ctx context.Context, kind, id string) (*Snapshot, error) {
	var snap Snapshot
	if err := c.do(ctx, http.MethodGet, "/resources/"+kind+"/"+id, nil, "", &snap); err != nil {
		return nil, err
	}
	if snap.Scalars == nil {
		snap.Scalars = map[string]string{}
	}
	return &snap, nil
}

// UpdateResource submits an update as a multipart PUT: scalar fields, the
// single reference, repeated reference ids, retained server image ids and
// the new image binaries. The backend applies it last-write-wins; there is
// no optimistic-concurrency check.
func (c *Client) UpdateResource(ctx context.Context, u Update) (*UpdateResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for name, value := range u.Scalars {
		if err := w.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("records api: write field %s: %w", name, err)
		}
	}
	if u.SingleReference != nil {
		w.WriteField("single_reference_id", strconv.FormatInt(u.SingleReference.ID, 10))
		w.WriteField("single_reference_name", u.SingleReference.Description)
	}
	for _, id := range u.ReferenceIDs {
		w.WriteField("reference_ids", strconv.FormatInt(id, 10))
	}
	for _, id := range u.RetainedImageIDs {
		w.WriteField("retained_image_ids", strconv.FormatInt(id, 10))
	}
	for i, up := range u.Uploads {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename="image-%d"`, i))
		hdr.Set("Content-Type", up.MIME)
		part, err := w.CreatePart(hdr)
		if err != nil {
			return nil, fmt.Errorf("records api: create image part: %w", err)
		}
		if _, err := part.Write(up.Data); err != nil {
			return nil, fmt.Errorf("records api: write image part: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("records api: finish multipart body: %w", err)
	}

	path := "/resources/" + u.Kind + "/" + u.ResourceID
	var res UpdateResult
	if err := c.do(ctx, http.MethodPut, path, &buf, w.FormDataContentType(), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DeleteResourceImage removes a server-origin image from a resource.
func (c *Client) DeleteResourceImage(ctx context.Context, kind, id string, imageID int64) error {
	path := fmt.Sprintf("/resources/%s/%s/images/%d", kind, id, imageID)
	return c.do(ctx, http.MethodDelete, path, nil, "", nil)
}
