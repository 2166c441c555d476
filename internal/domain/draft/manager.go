package draft

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/medidraft/medidraft/internal/platform/kvstore"
)

// Manager owns the active sessions of the process, at most one per draft
// key. Screens obtain their session here; the navigation guard discards
// sessions whose flow the user has left.
type Manager struct {
	store     kvstore.Store
	minImages int
	log       zerolog.Logger

	mu       sync.Mutex
	sessions map[Key]*managed
}

type managed struct {
	sess *Session
	flow string
}

// OwnedSession pairs an active session key with the flow that owns it.
type OwnedSession struct {
	Key  Key
	Flow string
}

func NewManager(store kvstore.Store, minImages int, log zerolog.Logger) *Manager {
	return &Manager{
		store:     store,
		minImages: minImages,
		log:       log,
		sessions:  make(map[Key]*managed),
	}
}

// Session returns the active session for key, creating (and hydrating) one
// when none exists. Sub-screens of the same flow get the same session back.
// A session is owned exclusively by the flow that created it.
func (m *Manager) Session(ctx context.Context, flow string, key Key) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.sessions[key]; ok && e.sess.Active() {
		if e.flow != flow {
			return nil, fmt.Errorf("draft %s is owned by flow %q, not %q", key, e.flow, flow)
		}
		return e.sess, nil
	}

	sess, err := Init(ctx, m.store, key, m.minImages, m.log)
	if err != nil {
		return nil, err
	}
	m.sessions[key] = &managed{sess: sess, flow: flow}
	m.log.Debug().Str("draft", key.String()).Str("flow", flow).Msg("draft session opened")
	return sess, nil
}

// Active lists the currently active sessions with their owning flows.
func (m *Manager) Active() []OwnedSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []OwnedSession
	for key, e := range m.sessions {
		if e.sess.Active() {
			out = append(out, OwnedSession{Key: key, Flow: e.flow})
		}
	}
	return out
}

// Discard tears down the session for key and forgets it. Discarding an
// unknown key is a no-op.
func (m *Manager) Discard(ctx context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[key]
	if !ok {
		return nil
	}
	delete(m.sessions, key)
	if !e.sess.Active() {
		return nil
	}
	return e.sess.Discard(ctx)
}
