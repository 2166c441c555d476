package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medidraft/medidraft/internal/domain/imageset"
	"github.com/medidraft/medidraft/internal/domain/refset"
	"github.com/medidraft/medidraft/internal/platform/kvstore"
)

// Session is the draft aggregate for one resource: scalar fields, the
// single reference (doctor), the tag reconciler and the image collection.
// Every mutation persists the whole session write-through, so navigating to
// a sub-screen and back never loses state. All store access goes through the
// session; no other component touches the store.
type Session struct {
	key   Key
	store kvstore.Store
	log   zerolog.Logger

	scalars      map[string]string
	dirtyScalars map[string]bool
	singleRef    *refset.Item
	refDirty     bool

	tags   *refset.Reconciler
	images *imageset.Collection

	snapshotLoaded bool
	minImages      int

	token  uuid.UUID
	active bool
}

type metaState struct {
	SnapshotLoaded bool     `json:"snapshot_loaded"`
	DirtyScalars   []string `json:"dirty_scalars"`
	ReferenceDirty bool     `json:"reference_dirty"`
}

type tagsState struct {
	Selected  []refset.Item `json:"selected"`
	ServerIDs []int64       `json:"server_ids"`
	Merged    bool          `json:"merged"`
}

type imagesState struct {
	Items     []imageset.Image `json:"items"`
	ServerIDs []int64          `json:"server_ids"`
	Merged    bool             `json:"merged"`
}

// Init creates the session for key, hydrating any previously persisted draft
// from the store. A session with nothing persisted starts empty with
// HasLoadedServerSnapshot false.
func Init(ctx context.Context, store kvstore.Store, key Key, minImages int, log zerolog.Logger) (*Session, error) {
	s := &Session{
		key:          key,
		store:        store,
		log:          log.With().Str("draft", key.String()).Logger(),
		scalars:      make(map[string]string),
		dirtyScalars: make(map[string]bool),
		tags:         refset.New(),
		images:       imageset.New(minImages),
		minImages:    minImages,
		token:        uuid.New(),
		active:       true,
	}
	if err := s.hydrate(ctx); err != nil {
		return nil, fmt.Errorf("init draft %s: %w", key, err)
	}
	return s, nil
}

func (s *Session) hydrate(ctx context.Context) error {
	var meta metaState
	found, err := s.read(ctx, "meta", &meta)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	s.snapshotLoaded = meta.SnapshotLoaded
	for _, name := range meta.DirtyScalars {
		s.dirtyScalars[name] = true
	}
	s.refDirty = meta.ReferenceDirty

	if _, err := s.read(ctx, "scalars", &s.scalars); err != nil {
		return err
	}
	var ref refset.Item
	if found, err := s.read(ctx, "singleReference", &ref); err != nil {
		return err
	} else if found {
		s.singleRef = &ref
	}

	var tags tagsState
	var removedTags []int64
	if _, err := s.read(ctx, "tags.selected", &tags); err != nil {
		return err
	}
	if _, err := s.read(ctx, "tags.removedServerIds", &removedTags); err != nil {
		return err
	}
	s.tags = refset.FromState(refset.State{
		Selected:  tags.Selected,
		Removed:   removedTags,
		ServerIDs: tags.ServerIDs,
		Merged:    tags.Merged,
	})

	var imgs imagesState
	var removedImgs []int64
	if _, err := s.read(ctx, "images.items", &imgs); err != nil {
		return err
	}
	if _, err := s.read(ctx, "images.removedServerIds", &removedImgs); err != nil {
		return err
	}
	s.images = imageset.FromState(imageset.State{
		Items:     imgs.Items,
		Removed:   removedImgs,
		ServerIDs: imgs.ServerIDs,
		Merged:    imgs.Merged,
	}, s.minImages)

	return nil
}

func (s *Session) read(ctx context.Context, suffix string, dst any) (bool, error) {
	data, err := s.store.Get(ctx, s.key.Prefix()+suffix)
	if errors.Is(err, kvstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", suffix, err)
	}
	return true, nil
}

func (s *Session) write(ctx context.Context, suffix string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", suffix, err)
	}
	return s.store.Put(ctx, s.key.Prefix()+suffix, data)
}

// persist writes the full session to the store. Called synchronously after
// every mutation.
func (s *Session) persist(ctx context.Context) error {
	meta := metaState{
		SnapshotLoaded: s.snapshotLoaded,
		ReferenceDirty: s.refDirty,
	}
	for name := range s.dirtyScalars {
		meta.DirtyScalars = append(meta.DirtyScalars, name)
	}
	sort.Strings(meta.DirtyScalars)

	tags := s.tags.State()
	imgs := s.images.State()

	writes := []struct {
		suffix string
		value  any
	}{
		{"meta", meta},
		{"scalars", s.scalars},
		{"tags.selected", tagsState{Selected: tags.Selected, ServerIDs: tags.ServerIDs, Merged: tags.Merged}},
		{"tags.removedServerIds", tags.Removed},
		{"images.items", imagesState{Items: imgs.Items, ServerIDs: imgs.ServerIDs, Merged: imgs.Merged}},
		{"images.removedServerIds", imgs.Removed},
	}
	for _, w := range writes {
		if err := s.write(ctx, w.suffix, w.value); err != nil {
			return fmt.Errorf("persist draft %s: %w", s.key, err)
		}
	}
	if s.singleRef != nil {
		if err := s.write(ctx, "singleReference", s.singleRef); err != nil {
			return fmt.Errorf("persist draft %s: %w", s.key, err)
		}
	} else if err := s.store.Delete(ctx, s.key.Prefix()+"singleReference"); err != nil {
		return fmt.Errorf("persist draft %s: %w", s.key, err)
	}
	return nil
}

// Token returns the generation token for this session. Callers starting an
// async snapshot fetch capture it and pass it to AdoptServerSnapshot; a
// discard in between rotates the token so the late merge is refused.
func (s *Session) Token() uuid.UUID {
	return s.token
}

// AdoptServerSnapshot merges a fetched server snapshot into the session.
// Scalars and the single reference are only taken where the user has no
// local override; tag and image merging is delegated to the reconcilers and
// happens once per session unless they carry no local state at all.
func (s *Session) AdoptServerSnapshot(ctx context.Context, token uuid.UUID, snap Snapshot) error {
	if !s.active {
		return ErrSessionTornDown
	}
	if token != s.token {
		return ErrStaleToken
	}

	for name, val := range snap.Scalars {
		if s.dirtyScalars[name] {
			continue
		}
		if s.snapshotLoaded {
			if _, ok := s.scalars[name]; ok {
				continue
			}
		}
		s.scalars[name] = val
	}
	if snap.SingleReference != nil && !s.refDirty && (!s.snapshotLoaded || s.singleRef == nil) {
		ref := *snap.SingleReference
		s.singleRef = &ref
	}

	if !s.snapshotLoaded || !s.tags.HasLocalState() {
		s.tags.MergeServerSnapshot(snap.References)
	}
	if !s.snapshotLoaded || !s.images.HasLocalState() {
		s.images.MergeServerSnapshot(snap.Images)
	}

	s.snapshotLoaded = true
	return s.persist(ctx)
}

// SetScalar overwrites a scalar field. User edits always win over snapshot
// values.
func (s *Session) SetScalar(ctx context.Context, name, value string) error {
	if !s.active {
		return ErrSessionTornDown
	}
	s.scalars[name] = value
	s.dirtyScalars[name] = true
	return s.persist(ctx)
}

// SetSingleReference overwrites the single reference (doctor). Passing nil
// clears it.
func (s *Session) SetSingleReference(ctx context.Context, item *refset.Item) error {
	if !s.active {
		return ErrSessionTornDown
	}
	if item != nil {
		ref := *item
		s.singleRef = &ref
	} else {
		s.singleRef = nil
	}
	s.refDirty = true
	return s.persist(ctx)
}

func (s *Session) SelectTag(ctx context.Context, item refset.Item) error {
	if !s.active {
		return ErrSessionTornDown
	}
	s.tags.Select(item)
	return s.persist(ctx)
}

func (s *Session) RemoveTag(ctx context.Context, id int64) error {
	if !s.active {
		return ErrSessionTornDown
	}
	s.tags.Remove(id)
	return s.persist(ctx)
}

func (s *Session) AddLocalImage(ctx context.Context, data []byte, mime string) error {
	if !s.active {
		return ErrSessionTornDown
	}
	s.images.AddLocal(data, mime)
	return s.persist(ctx)
}

// RemoveImageAt removes the image at index. An imageset.ErrMinimumCount
// rejection leaves both the collection and the persisted state unchanged.
func (s *Session) RemoveImageAt(ctx context.Context, index int) error {
	if !s.active {
		return ErrSessionTornDown
	}
	if err := s.images.RemoveAt(index); err != nil {
		return err
	}
	return s.persist(ctx)
}

// Commit builds the payload from effective state and submits it. On success
// the session discards itself; on failure it is left intact so the user can
// retry without re-entering data.
func (s *Session) Commit(ctx context.Context, submit SubmitFunc) error {
	if !s.active {
		return ErrSessionTornDown
	}
	if err := submit(ctx, s.Payload()); err != nil {
		s.log.Warn().Err(err).Msg("draft commit failed, session kept")
		return fmt.Errorf("commit draft %s: %w", s.key, err)
	}
	return s.Discard(ctx)
}

// Payload returns the effective state for submission.
func (s *Session) Payload() Payload {
	p := Payload{
		Kind:             s.key.Kind,
		ResourceID:       s.key.ID,
		Scalars:          make(map[string]string, len(s.scalars)),
		ReferenceIDs:     s.tags.SelectedIDs(),
		RetainedImageIDs: s.images.RetainedServerIDs(),
		Uploads:          s.images.EffectiveUploadSet(),
	}
	for k, v := range s.scalars {
		p.Scalars[k] = v
	}
	if s.singleRef != nil {
		ref := *s.singleRef
		p.SingleReference = &ref
	}
	return p
}

// Discard removes every persisted key of the draft and tears the session
// down. There is no way back; a later Init creates a fresh session.
func (s *Session) Discard(ctx context.Context) error {
	if err := s.store.DeletePrefix(ctx, s.key.Prefix()); err != nil {
		return fmt.Errorf("discard draft %s: %w", s.key, err)
	}
	s.active = false
	s.token = uuid.New()
	s.log.Debug().Msg("draft discarded")
	return nil
}

func (s *Session) Key() Key { return s.key }

func (s *Session) Active() bool { return s.active }

func (s *Session) HasLoadedServerSnapshot() bool { return s.snapshotLoaded }

func (s *Session) SingleReference() *refset.Item { return s.singleRef }

func (s *Session) EffectiveTags() []refset.Item { return s.tags.EffectiveSelection() }

func (s *Session) Images() []imageset.Image { return s.images.Items() }

func (s *Session) UploadSet() []imageset.Image { return s.images.EffectiveUploadSet() }

// Scalar returns a scalar field value.
func (s *Session) Scalar(name string) (string, bool) {
	v, ok := s.scalars[name]
	return v, ok
}

// Scalars returns a copy of all scalar fields.
func (s *Session) Scalars() map[string]string {
	out := make(map[string]string, len(s.scalars))
	for k, v := range s.scalars {
		out[k] = v
	}
	return out
}
