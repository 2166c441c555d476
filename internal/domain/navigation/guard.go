package navigation

import (
	"context"
	"errors"
	"slices"

	"github.com/rs/zerolog"

	"github.com/medidraft/medidraft/internal/domain/draft"
	"github.com/medidraft/medidraft/internal/domain/wizard"
)

// Predicate reports whether a navigation context still belongs to a flow.
type Predicate func(Context) bool

// Rule is the declarative form of a flow predicate: the context belongs to
// the flow when its view and tab match and, if the rule names sub-screen
// flags, at least one of them is set. Empty fields match anything.
type Rule struct {
	Views []View
	Tabs  []string
	Flags []string
}

// Predicate compiles the rule.
func (r Rule) Predicate() Predicate {
	return func(c Context) bool {
		if len(r.Views) > 0 && !slices.Contains(r.Views, c.View) {
			return false
		}
		if len(r.Tabs) > 0 && !slices.Contains(r.Tabs, c.Tab) {
			return false
		}
		if len(r.Flags) > 0 {
			for _, f := range r.Flags {
				if c.HasFlag(f) {
					return true
				}
			}
			return false
		}
		return true
	}
}

// Guard evaluates flow predicates on every navigation change and tears down
// every draft session (and wizard) whose flow the user has left. Teardown
// runs synchronously, before the destination screen initializes, so a
// torn-down flow can never leak state into the next one.
type Guard struct {
	sessions *draft.Manager
	flows    map[string]Predicate
	wizards  map[string]*wizard.Controller
	log      zerolog.Logger
}

func NewGuard(sessions *draft.Manager, log zerolog.Logger) *Guard {
	return &Guard{
		sessions: sessions,
		flows:    make(map[string]Predicate),
		wizards:  make(map[string]*wizard.Controller),
		log:      log,
	}
}

// RegisterFlow binds a flow name to its belongs-to predicate.
func (g *Guard) RegisterFlow(flow string, p Predicate) {
	g.flows[flow] = p
}

// RegisterRule binds a flow name to a declarative rule.
func (g *Guard) RegisterRule(flow string, r Rule) {
	g.flows[flow] = r.Predicate()
}

// AttachWizard makes the guard reset a wizard when its flow is torn down.
func (g *Guard) AttachWizard(flow string, w *wizard.Controller) {
	g.wizards[flow] = w
}

// OnNavigate checks every active session against the new navigation context
// and discards the ones whose flow no longer contains it. Attached wizards
// are evaluated independently, so a wizard-only flow is torn down even when
// no draft session exists for it. Flows without a registered predicate are
// treated as left.
func (g *Guard) OnNavigate(ctx context.Context, nav Context) error {
	var errs []error
	for _, owned := range g.sessions.Active() {
		if g.inFlow(owned.Flow, nav) {
			continue
		}
		g.log.Debug().
			Str("draft", owned.Key.String()).
			Str("flow", owned.Flow).
			Str("to", string(nav.View)+"/"+nav.Tab).
			Msg("navigation left flow, tearing down draft")
		if err := g.sessions.Discard(ctx, owned.Key); err != nil {
			errs = append(errs, err)
		}
	}
	for flow, w := range g.wizards {
		if g.inFlow(flow, nav) {
			continue
		}
		g.log.Debug().
			Str("flow", flow).
			Str("to", string(nav.View)+"/"+nav.Tab).
			Msg("navigation left flow, resetting wizard")
		if err := w.Teardown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (g *Guard) inFlow(flow string, nav Context) bool {
	pred := g.flows[flow]
	return pred != nil && pred(nav)
}
