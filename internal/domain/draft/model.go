package draft

import (
	"context"
	"errors"
	"fmt"

	"github.com/medidraft/medidraft/internal/domain/imageset"
	"github.com/medidraft/medidraft/internal/domain/refset"
)

// NewResourceID keys a draft for a resource that does not exist on the
// server yet.
const NewResourceID = "new"

// ErrStaleToken is returned when an async snapshot fetch resolves after the
// session it was started for has been discarded or re-created. The merge is
// not applied.
var ErrStaleToken = errors.New("draft: stale session token, snapshot not applied")

// ErrSessionTornDown is returned by mutating operations on a session that
// has already been discarded.
var ErrSessionTornDown = errors.New("draft: session has been torn down")

// Key identifies one draft: the resource kind (lab-report, prescription,
// medicine) and the resource id, or NewResourceID for an add flow.
type Key struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func NewKey(kind, id string) Key {
	if id == "" {
		id = NewResourceID
	}
	return Key{Kind: kind, ID: id}
}

// Prefix is the store-key prefix owned by this draft. Every persisted key of
// the session lives under it, so one DeletePrefix tears the draft down.
func (k Key) Prefix() string {
	return fmt.Sprintf("draft.%s.%s.", k.Kind, k.ID)
}

func (k Key) String() string {
	return k.Kind + "/" + k.ID
}

// Snapshot is the server copy of a resource, as fetched before editing.
// Images carry ServerOrigin.
type Snapshot struct {
	Scalars         map[string]string
	SingleReference *refset.Item
	References      []refset.Item
	Images          []imageset.Image
}

// Payload is the effective state of a draft at commit time: what the update
// request must carry.
type Payload struct {
	Kind             string
	ResourceID       string
	Scalars          map[string]string
	SingleReference  *refset.Item
	ReferenceIDs     []int64
	RetainedImageIDs []int64
	Uploads          []imageset.Image
}

// SubmitFunc transmits a commit payload to the backend. A non-nil error
// leaves the session intact for retry.
type SubmitFunc func(ctx context.Context, p Payload) error
