package draft

import (
	"context"

	"github.com/medidraft/medidraft/internal/domain/imageset"
	"github.com/medidraft/medidraft/internal/domain/refset"
	"github.com/medidraft/medidraft/internal/platform/api"
)

// FetchSnapshot loads the server copy of a resource and converts it into
// session form. Callers capture the session token before starting the fetch
// and hand both to AdoptServerSnapshot when it resolves.
func FetchSnapshot(ctx context.Context, client *api.Client, kind, id string) (*Snapshot, error) {
	rs, err := client.GetResource(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	snap := SnapshotFromAPI(rs)
	return &snap, nil
}

// SnapshotFromAPI converts a wire snapshot into domain types. Server images
// are tagged with ServerOrigin.
func SnapshotFromAPI(rs *api.Snapshot) Snapshot {
	snap := Snapshot{Scalars: rs.Scalars}
	if snap.Scalars == nil {
		snap.Scalars = map[string]string{}
	}
	if rs.SingleReference != nil {
		snap.SingleReference = &refset.Item{ID: rs.SingleReference.ID, Description: rs.SingleReference.Description}
	}
	for _, ref := range rs.References {
		snap.References = append(snap.References, refset.Item{ID: ref.ID, Description: ref.Description})
	}
	for _, img := range rs.Images {
		snap.Images = append(snap.Images, imageset.ServerImage(img.ID, img.URL))
	}
	return snap
}

// ToUpdate converts the payload into the wire update request.
func (p Payload) ToUpdate() api.Update {
	u := api.Update{
		Kind:             p.Kind,
		ResourceID:       p.ResourceID,
		Scalars:          p.Scalars,
		ReferenceIDs:     p.ReferenceIDs,
		RetainedImageIDs: p.RetainedImageIDs,
	}
	if p.SingleReference != nil {
		u.SingleReference = &api.ReferenceItem{ID: p.SingleReference.ID, Description: p.SingleReference.Description}
	}
	for _, img := range p.Uploads {
		u.Uploads = append(u.Uploads, api.Upload{Data: img.Data, MIME: img.MIME})
	}
	return u
}

// SubmitVia adapts the API client to a SubmitFunc for Commit.
func SubmitVia(client *api.Client) SubmitFunc {
	return func(ctx context.Context, p Payload) error {
		_, err := client.UpdateResource(ctx, p.ToUpdate())
		return err
	}
}
