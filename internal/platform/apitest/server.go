// Package apitest runs an in-process fake of the records backend for
// client and integration tests.
package apitest

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/medidraft/medidraft/internal/platform/api"
)

// Image is a server-side image of a resource.
type Image struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

// Resource is the fake backend's state for one record.
type Resource struct {
	Scalars         map[string]string   `json:"scalars"`
	SingleReference *api.ReferenceItem  `json:"single_reference,omitempty"`
	References      []api.ReferenceItem `json:"references"`
	Images          []Image             `json:"images"`
}

// Upload describes one image binary received in an update.
type Upload struct {
	Filename string
	MIME     string
	Size     int64
}

// UpdateCall records one resource update as the fake backend parsed it.
type UpdateCall struct {
	Kind              string
	ID                string
	Scalars           map[string]string
	SingleReferenceID string
	ReferenceIDs      []int64
	RetainedImageIDs  []int64
	Uploads           []Upload
}

// Server is an in-process records backend backed by in-memory state.
type Server struct {
	mu          sync.Mutex
	ts          *httptest.Server
	refLists    map[string][]api.ReferenceItem
	resources   map[string]*Resource
	updateCalls []UpdateCall
	failUpdates bool
	nextRefID   int64
	nextImageID int64
}

var reservedFields = map[string]bool{
	"single_reference_id":   true,
	"single_reference_name": true,
	"reference_ids":         true,
	"retained_image_ids":    true,
}

// New starts the fake backend. Callers must Close it.
func New() *Server {
	s := &Server{
		refLists:    make(map[string][]api.ReferenceItem),
		resources:   make(map[string]*Resource),
		nextRefID:   1000,
		nextImageID: 5000,
	}

	e := echo.New()
	e.HideBanner = true
	e.GET("/reference-lists/:kind", s.listReferences)
	e.POST("/reference-lists/:kind", s.createReference)
	e.GET("/resources/:kind/:id", s.getResource)
	e.PUT("/resources/:kind/:id", s.updateResource)
	e.DELETE("/resources/:kind/:id/images/:imageID", s.deleteImage)

	s.ts = httptest.NewServer(e)
	return s
}

func (s *Server) URL() string { return s.ts.URL }

func (s *Server) Close() { s.ts.Close() }

// SetReferenceList seeds the reference list for a kind.
func (s *Server) SetReferenceList(kind string, items []api.ReferenceItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refLists[kind] = append([]api.ReferenceItem(nil), items...)
}

// SetResource seeds the state of one resource.
func (s *Server) SetResource(kind, id string, r Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Scalars == nil {
		r.Scalars = map[string]string{}
	}
	s.resources[kind+"/"+id] = &r
}

// Resource returns a copy of the current state of one resource.
func (s *Server) Resource(kind, id string) (Resource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[kind+"/"+id]
	if !ok {
		return Resource{}, false
	}
	out := *r
	out.Scalars = make(map[string]string, len(r.Scalars))
	for k, v := range r.Scalars {
		out.Scalars[k] = v
	}
	out.References = append([]api.ReferenceItem(nil), r.References...)
	out.Images = append([]Image(nil), r.Images...)
	return out, true
}

// FailUpdates makes subsequent resource updates answer 500.
func (s *Server) FailUpdates(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUpdates = fail
}

// UpdateCalls returns every resource update received so far.
func (s *Server) UpdateCalls() []UpdateCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]UpdateCall(nil), s.updateCalls...)
}

func (s *Server) listReferences(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.refLists[c.Param("kind")]
	if items == nil {
		items = []api.ReferenceItem{}
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) createReference(c echo.Context) error {
	var req struct {
		Description string `json:"description"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"status": "error", "message": "invalid body"})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kind := c.Param("kind")
	item := api.ReferenceItem{ID: s.nextRefID, Description: req.Description}
	s.nextRefID++
	s.refLists[kind] = append(s.refLists[kind], item)
	return c.JSON(http.StatusCreated, item)
}

func (s *Server) getResource(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[c.Param("kind")+"/"+c.Param("id")]
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"status": "error", "message": "resource not found"})
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) updateResource(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"status": "error", "message": "expected multipart body"})
	}

	call := UpdateCall{
		Kind:    c.Param("kind"),
		ID:      c.Param("id"),
		Scalars: map[string]string{},
	}
	for name, values := range form.Value {
		if len(values) == 0 {
			continue
		}
		switch name {
		case "single_reference_id":
			call.SingleReferenceID = values[0]
		case "reference_ids":
			for _, v := range values {
				id, err := strconv.ParseInt(v, 10, 64)
				if err != nil {
					return c.JSON(http.StatusBadRequest, map[string]string{"status": "error", "message": "bad reference id"})
				}
				call.ReferenceIDs = append(call.ReferenceIDs, id)
			}
		case "retained_image_ids":
			for _, v := range values {
				id, err := strconv.ParseInt(v, 10, 64)
				if err != nil {
					return c.JSON(http.StatusBadRequest, map[string]string{"status": "error", "message": "bad image id"})
				}
				call.RetainedImageIDs = append(call.RetainedImageIDs, id)
			}
		default:
			if !reservedFields[name] {
				call.Scalars[name] = values[0]
			}
		}
	}
	for _, fh := range form.File["images"] {
		call.Uploads = append(call.Uploads, Upload{
			Filename: fh.Filename,
			MIME:     fh.Header.Get("Content-Type"),
			Size:     fh.Size,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls = append(s.updateCalls, call)
	if s.failUpdates {
		return c.JSON(http.StatusInternalServerError, map[string]string{"status": "error", "message": "update rejected"})
	}
	s.apply(call, form.Value["single_reference_name"])
	return c.JSON(http.StatusOK, map[string]string{"status": "success", "message": "saved"})
}

// apply folds an update into the stored resource. Caller holds the lock.
func (s *Server) apply(call UpdateCall, singleRefName []string) {
	key := call.Kind + "/" + call.ID
	r, ok := s.resources[key]
	if !ok {
		r = &Resource{Scalars: map[string]string{}}
		s.resources[key] = r
	}
	for k, v := range call.Scalars {
		r.Scalars[k] = v
	}
	if call.SingleReferenceID != "" {
		id, err := strconv.ParseInt(call.SingleReferenceID, 10, 64)
		if err == nil {
			ref := &api.ReferenceItem{ID: id}
			if len(singleRefName) > 0 {
				ref.Description = singleRefName[0]
			}
			r.SingleReference = ref
		}
	}

	refs := make([]api.ReferenceItem, 0, len(call.ReferenceIDs))
	for _, id := range call.ReferenceIDs {
		refs = append(refs, s.resolveReference(id))
	}
	r.References = refs

	retained := make(map[int64]bool, len(call.RetainedImageIDs))
	for _, id := range call.RetainedImageIDs {
		retained[id] = true
	}
	images := make([]Image, 0, len(r.Images)+len(call.Uploads))
	for _, img := range r.Images {
		if retained[img.ID] {
			images = append(images, img)
		}
	}
	for range call.Uploads {
		images = append(images, Image{
			ID:  s.nextImageID,
			URL: "/media/" + strconv.FormatInt(s.nextImageID, 10),
		})
		s.nextImageID++
	}
	r.Images = images
}

// resolveReference looks an id up across every seeded reference list.
// Unknown ids keep the id with an empty description.
func (s *Server) resolveReference(id int64) api.ReferenceItem {
	for _, items := range s.refLists {
		for _, it := range items {
			if it.ID == id {
				return it
			}
		}
	}
	return api.ReferenceItem{ID: id}
}

func (s *Server) deleteImage(c echo.Context) error {
	imageID, err := strconv.ParseInt(c.Param("imageID"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"status": "error", "message": "bad image id"})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[c.Param("kind")+"/"+c.Param("id")]
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"status": "error", "message": "resource not found"})
	}
	kept := r.Images[:0]
	for _, img := range r.Images {
		if img.ID != imageID {
			kept = append(kept, img)
		}
	}
	r.Images = kept
	return c.JSON(http.StatusOK, map[string]string{"status": "success", "message": "deleted"})
}
