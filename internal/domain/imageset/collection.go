package imageset

import (
	"errors"
	"fmt"
	"slices"
)

// ErrMinimumCount is returned by RemoveAt when the removal would leave the
// collection below its minimum size. The collection is left unchanged.
var ErrMinimumCount = errors.New("imageset: removal would violate minimum image count")

// Origin discriminates server-origin images from ones added this session.
type Origin string

const (
	ServerOrigin Origin = "server"
	LocalOrigin  Origin = "local"
)

// Image is one entry in the ordered collection. Server-origin images carry
// ID and URL; local images carry the pending upload bytes and MIME type.
// The Origin tag is the discriminant, never the presence of an id.
type Image struct {
	Origin Origin `json:"origin"`
	ID     int64  `json:"id,omitempty"`
	URL    string `json:"url,omitempty"`
	Data   []byte `json:"data,omitempty"`
	MIME   string `json:"mime,omitempty"`
}

func ServerImage(id int64, url string) Image {
	return Image{Origin: ServerOrigin, ID: id, URL: url}
}

func LocalImage(data []byte, mime string) Image {
	return Image{Origin: LocalOrigin, Data: data, MIME: mime}
}

// Collection is an ordered image collection with a minimum-count invariant.
// Removals of server-origin images are tombstoned so a later snapshot merge
// cannot reintroduce them.
type Collection struct {
	items     []Image
	removed   map[int64]bool
	serverIDs map[int64]bool
	merged    bool
	min       int
}

// New creates a Collection enforcing at least min items at removal time.
// A min below 1 is raised to 1.
func New(min int) *Collection {
	if min < 1 {
		min = 1
	}
	return &Collection{
		removed:   make(map[int64]bool),
		serverIDs: make(map[int64]bool),
		min:       min,
	}
}

// AddLocal appends a pending upload to the collection.
func (c *Collection) AddLocal(data []byte, mime string) {
	c.items = append(c.items, LocalImage(data, mime))
}

// RemoveAt removes the item at index. The removal is rejected with
// ErrMinimumCount when it would shrink the collection below the minimum.
// Server-origin removals are tombstoned.
func (c *Collection) RemoveAt(index int) error {
	if index < 0 || index >= len(c.items) {
		return fmt.Errorf("imageset: index %d out of range [0,%d)", index, len(c.items))
	}
	if len(c.items)-1 < c.min {
		return ErrMinimumCount
	}
	it := c.items[index]
	if it.Origin == ServerOrigin {
		c.removed[it.ID] = true
	}
	c.items = append(c.items[:index], c.items[index+1:]...)
	return nil
}

// MergeServerSnapshot replaces the collection with the server images minus
// tombstones, followed by every local image added this session. Local images
// are never discarded by a merge.
func (c *Collection) MergeServerSnapshot(serverImages []Image) {
	c.serverIDs = make(map[int64]bool, len(serverImages))
	for _, img := range serverImages {
		c.serverIDs[img.ID] = true
	}

	merged := make([]Image, 0, len(serverImages)+len(c.items))
	for _, img := range serverImages {
		if img.Origin != ServerOrigin || c.removed[img.ID] {
			continue
		}
		merged = append(merged, img)
	}
	for _, img := range c.items {
		if img.Origin == LocalOrigin {
			merged = append(merged, img)
		}
	}

	c.items = merged
	c.merged = true
}

// EffectiveUploadSet returns the local images only: the files a commit must
// transmit as new uploads.
func (c *Collection) EffectiveUploadSet() []Image {
	var out []Image
	for _, img := range c.items {
		if img.Origin == LocalOrigin {
			out = append(out, img)
		}
	}
	return out
}

// RetainedServerIDs returns the ids of the server-origin images still in the
// collection, in display order. A commit references these by id; they are
// never re-uploaded.
func (c *Collection) RetainedServerIDs() []int64 {
	var ids []int64
	for _, img := range c.items {
		if img.Origin == ServerOrigin {
			ids = append(ids, img.ID)
		}
	}
	return ids
}

// Items returns the collection in display order.
func (c *Collection) Items() []Image {
	out := make([]Image, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Collection) Len() int {
	return len(c.items)
}

// HasLocalState reports whether the collection carries any item or
// tombstone.
func (c *Collection) HasLocalState() bool {
	return len(c.items) > 0 || len(c.removed) > 0
}

// Merged reports whether a server snapshot has been merged in.
func (c *Collection) Merged() bool {
	return c.merged
}

// State is the serializable form of a Collection. The minimum count is
// configuration, not state, and is supplied again on restore.
type State struct {
	Items     []Image `json:"items"`
	Removed   []int64 `json:"removed_server_ids"`
	ServerIDs []int64 `json:"server_ids"`
	Merged    bool    `json:"merged"`
}

func (c *Collection) State() State {
	st := State{
		Items:  append([]Image(nil), c.items...),
		Merged: c.merged,
	}
	for id := range c.removed {
		st.Removed = append(st.Removed, id)
	}
	for id := range c.serverIDs {
		st.ServerIDs = append(st.ServerIDs, id)
	}
	slices.Sort(st.Removed)
	slices.Sort(st.ServerIDs)
	return st
}

func FromState(st State, min int) *Collection {
	c := New(min)
	c.items = append(c.items, st.Items...)
	for _, id := range st.Removed {
		c.removed[id] = true
	}
	for _, id := range st.ServerIDs {
		c.serverIDs[id] = true
	}
	c.merged = st.Merged
	return c
}
