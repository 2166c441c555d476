package navigation

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/medidraft/medidraft/internal/domain/draft"
	"github.com/medidraft/medidraft/internal/domain/wizard"
	"github.com/medidraft/medidraft/internal/platform/kvstore"
)

func labReportRule() Rule {
	return Rule{
		Views: []View{ViewEdit, ViewAdd},
		Tabs:  []string{"lab-report"},
		Flags: []string{"mainForm", "editingTags", "attachingImage"},
	}
}

func TestRule_Predicate(t *testing.T) {
	pred := labReportRule().Predicate()

	inside := Context{View: ViewEdit, Tab: "lab-report", Flags: map[string]bool{"mainForm": true}}
	if !pred(inside) {
		t.Error("main form of the edit flow must belong to the flow")
	}

	picker := Context{View: ViewEdit, Tab: "lab-report", Flags: map[string]bool{"editingTags": true}}
	if !pred(picker) {
		t.Error("tag picker must belong to the flow")
	}

	otherTab := Context{View: ViewEdit, Tab: "prescription", Flags: map[string]bool{"mainForm": true}}
	if pred(otherTab) {
		t.Error("another tab must not belong to the flow")
	}

	viewOnly := Context{View: ViewView, Tab: "lab-report", Flags: map[string]bool{"mainForm": true}}
	if pred(viewOnly) {
		t.Error("the read-only view must not belong to the edit flow")
	}

	noFlag := Context{View: ViewEdit, Tab: "lab-report"}
	if pred(noFlag) {
		t.Error("a screen without any flow flag must not belong to the flow")
	}
}

func TestGuard_TearsDownOnLeavingFlow(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	m := draft.NewManager(store, 1, zerolog.Nop())
	g := NewGuard(m, zerolog.Nop())
	g.RegisterRule("lab-report-edit", labReportRule())

	key := draft.NewKey("lab-report", "12")
	sess, err := m.Session(ctx, "lab-report-edit", key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sess.SetScalar(ctx, "title", "x")

	// Navigating to the tag picker stays inside the flow.
	err = g.OnNavigate(ctx, Context{View: ViewEdit, Tab: "lab-report", Flags: map[string]bool{"editingTags": true}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sess.Active() {
		t.Fatal("session must survive in-flow navigation")
	}

	// Navigating to an unrelated tab leaves the flow.
	err = g.OnNavigate(ctx, Context{View: ViewView, Tab: "prescription"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.Active() {
		t.Fatal("session must be torn down when navigation leaves the flow")
	}
	if keys, _ := store.Keys(ctx, key.Prefix()); len(keys) != 0 {
		t.Errorf("expected persisted keys removed, got %v", keys)
	}
}

func TestGuard_TeardownBeforeNextInit(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	m := draft.NewManager(store, 1, zerolog.Nop())
	g := NewGuard(m, zerolog.Nop())
	g.RegisterRule("lab-report-edit", labReportRule())

	key := draft.NewKey("lab-report", "12")
	old, _ := m.Session(ctx, "lab-report-edit", key)
	old.SetScalar(ctx, "title", "stale")

	// Guard runs synchronously on navigation; the destination screen's
	// init afterwards must observe a fresh draft.
	g.OnNavigate(ctx, Context{View: ViewView, Tab: "prescription"})
	fresh, err := m.Session(ctx, "lab-report-edit", key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := fresh.Scalar("title"); ok {
		t.Error("destination screen observed the torn-down draft")
	}
}

func TestGuard_UnregisteredFlowIsTornDown(t *testing.T) {
	ctx := context.Background()
	m := draft.NewManager(kvstore.NewMemory(), 1, zerolog.Nop())
	g := NewGuard(m, zerolog.Nop())

	sess, _ := m.Session(ctx, "unknown-flow", draft.NewKey("note", "1"))
	g.OnNavigate(ctx, Context{View: ViewView, Tab: "home"})
	if sess.Active() {
		t.Error("sessions of flows without a predicate must be torn down")
	}
}

func TestGuard_TearsDownWizardOnlyFlow(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	m := draft.NewManager(store, 1, zerolog.Nop())
	g := NewGuard(m, zerolog.Nop())
	g.RegisterRule("medicine-add", Rule{Views: []View{ViewAdd}, Tabs: []string{"medicine"}})

	// The wizard flow never opens a draft session.
	w, err := wizard.New(ctx, wizard.MedicineDefinition(), store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g.AttachWizard("medicine-add", w)

	w.SetField(ctx, "name", "Metformin")
	w.SetField(ctx, "strength", "500mg")
	w.Next(ctx)

	// Staying inside the flow keeps the wizard alive.
	if err := g.OnNavigate(ctx, Context{View: ViewAdd, Tab: "medicine"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Step() != 2 {
		t.Fatalf("wizard must survive in-flow navigation, got step %d", w.Step())
	}

	if err := g.OnNavigate(ctx, Context{View: ViewView, Tab: "home"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Step() != 1 {
		t.Errorf("wizard must reset when navigation leaves the flow, got step %d", w.Step())
	}
	if keys, _ := store.Keys(ctx, "wizard.medicine."); len(keys) != 0 {
		t.Errorf("expected persisted wizard state removed, got %v", keys)
	}
}

func TestGuard_ResetsAttachedWizard(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	m := draft.NewManager(store, 1, zerolog.Nop())
	g := NewGuard(m, zerolog.Nop())
	g.RegisterRule("medicine-add", Rule{Views: []View{ViewAdd}, Tabs: []string{"medicine"}})

	w, err := wizard.New(ctx, wizard.MedicineDefinition(), store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g.AttachWizard("medicine-add", w)

	if _, err := m.Session(ctx, "medicine-add", draft.NewKey("medicine", draft.NewResourceID)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.SetField(ctx, "name", "Metformin")
	w.SetField(ctx, "strength", "500mg")
	w.Next(ctx)

	g.OnNavigate(ctx, Context{View: ViewView, Tab: "home"})

	if w.Step() != 1 {
		t.Errorf("wizard must reset on flow teardown, got step %d", w.Step())
	}
	if keys, _ := store.Keys(ctx, "wizard.medicine."); len(keys) != 0 {
		t.Errorf("expected wizard keys removed, got %v", keys)
	}
}
