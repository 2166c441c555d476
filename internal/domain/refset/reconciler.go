package refset

import "slices"

// Item is one selectable reference entry (a tag, symptom or test name).
// Identity is ID only; Description is display text and is never compared.
type Item struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
}

// Reconciler tracks an in-progress reference selection and reconciles it
// against the server copy of the resource. Removals of server-origin items
// are tombstoned so a later snapshot merge cannot reintroduce them.
type Reconciler struct {
	selected  []Item
	byID      map[int64]bool
	removed   map[int64]bool
	serverIDs map[int64]bool
	merged    bool
}

func New() *Reconciler {
	return &Reconciler{
		byID:      make(map[int64]bool),
		removed:   make(map[int64]bool),
		serverIDs: make(map[int64]bool),
	}
}

// Select adds an item to the selection. Selecting an already-selected id is
// a no-op. Selecting a previously removed server-origin id adds it back but
// leaves the tombstone in place; the next snapshot merge resolves it.
func (r *Reconciler) Select(item Item) {
	if r.byID[item.ID] {
		return
	}
	r.byID[item.ID] = true
	r.selected = append(r.selected, item)
}

// Remove drops an id from the selection. Ids that were part of the last
// merged server snapshot are tombstoned; local-only ids are simply dropped.
func (r *Reconciler) Remove(id int64) {
	if !r.byID[id] {
		return
	}
	delete(r.byID, id)
	for i, it := range r.selected {
		if it.ID == id {
			r.selected = append(r.selected[:i], r.selected[i+1:]...)
			break
		}
	}
	if r.serverIDs[id] {
		r.removed[id] = true
	}
}

// MergeServerSnapshot replaces the selection with
// (serverItems minus tombstones) followed by the items the user added this
// session that the server does not know about. Tombstones for ids the user
// explicitly re-selected are cleared first, so the re-selection survives.
func (r *Reconciler) MergeServerSnapshot(serverItems []Item) {
	for id := range r.removed {
		if r.byID[id] {
			delete(r.removed, id)
		}
	}

	r.serverIDs = make(map[int64]bool, len(serverItems))
	for _, it := range serverItems {
		r.serverIDs[it.ID] = true
	}

	merged := make([]Item, 0, len(serverItems)+len(r.selected))
	byID := make(map[int64]bool, len(serverItems)+len(r.selected))
	for _, it := range serverItems {
		if r.removed[it.ID] || byID[it.ID] {
			continue
		}
		byID[it.ID] = true
		merged = append(merged, it)
	}
	for _, it := range r.selected {
		if r.serverIDs[it.ID] || byID[it.ID] {
			continue
		}
		byID[it.ID] = true
		merged = append(merged, it)
	}

	r.selected = merged
	r.byID = byID
	r.merged = true
}

// EffectiveSelection returns the current selection, deduplicated by id, in
// insertion order.
func (r *Reconciler) EffectiveSelection() []Item {
	out := make([]Item, len(r.selected))
	copy(out, r.selected)
	return out
}

// SelectedIDs returns the ids of the current selection in insertion order.
func (r *Reconciler) SelectedIDs() []int64 {
	ids := make([]int64, 0, len(r.selected))
	for _, it := range r.selected {
		ids = append(ids, it.ID)
	}
	return ids
}

// HasLocalState reports whether the reconciler carries any selection or
// tombstone. A reconciler without local state may safely take a fresh merge.
func (r *Reconciler) HasLocalState() bool {
	return len(r.selected) > 0 || len(r.removed) > 0
}

// Merged reports whether a server snapshot has been merged in.
func (r *Reconciler) Merged() bool {
	return r.merged
}

// State is the serializable form of a Reconciler.
type State struct {
	Selected  []Item  `json:"selected"`
	Removed   []int64 `json:"removed_server_ids"`
	ServerIDs []int64 `json:"server_ids"`
	Merged    bool    `json:"merged"`
}

func (r *Reconciler) State() State {
	st := State{
		Selected: append([]Item(nil), r.selected...),
		Merged:   r.merged,
	}
	for id := range r.removed {
		st.Removed = append(st.Removed, id)
	}
	for id := range r.serverIDs {
		st.ServerIDs = append(st.ServerIDs, id)
	}
	slices.Sort(st.Removed)
	slices.Sort(st.ServerIDs)
	return st
}

func FromState(st State) *Reconciler {
	r := New()
	for _, it := range st.Selected {
		r.Select(it)
	}
	for _, id := range st.Removed {
		r.removed[id] = true
	}
	for _, id := range st.ServerIDs {
		r.serverIDs[id] = true
	}
	r.merged = st.Merged
	return r
}
