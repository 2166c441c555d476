package wizard

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/medidraft/medidraft/internal/platform/kvstore"
)

func testDefinition() Definition {
	return Definition{
		Kind:  "medicine",
		Steps: 3,
		Validators: map[int]Validator{
			1: func(form map[string]string) map[string]string {
				errs := map[string]string{}
				if form["name"] == "" {
					errs["name"] = "name is required"
				}
				return errs
			},
		},
		SaveSteps: map[int]bool{2: true},
	}
}

func newTestController(t *testing.T, store kvstore.Store) *Controller {
	t.Helper()
	c, err := New(context.Background(), testDefinition(), store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func TestNext_GatedByValidation(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t, kvstore.NewMemory())

	err := c.Next(ctx)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if c.Step() != 1 {
		t.Errorf("step must not advance on validation failure, got %d", c.Step())
	}
	if c.FieldErrors()["name"] == "" {
		t.Error("expected a field error for name")
	}

	if err := c.SetField(ctx, "name", "Paracetamol"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Next(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Step() != 2 {
		t.Errorf("expected step 2, got %d", c.Step())
	}
	if len(c.FieldErrors()) != 0 {
		t.Error("field errors must clear on successful advance")
	}
}

func TestNext_ClampedAtLastStep(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t, kvstore.NewMemory())
	c.SetField(ctx, "name", "Paracetamol")

	for i := 0; i < 5; i++ {
		if err := c.Next(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if c.Step() != 3 {
		t.Errorf("expected clamp at step 3, got %d", c.Step())
	}
}

func TestBack_NoValidationAndClamped(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t, kvstore.NewMemory())

	// Back from step 1 stays at step 1, even with an invalid form.
	if err := c.Back(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Step() != 1 {
		t.Errorf("expected clamp at step 1, got %d", c.Step())
	}
}

func TestResetToStart(t *testing.T) {
	ctx := context.Background()
	def := testDefinition()
	def.Defaults = map[string]string{"reminder_enabled": "false"}
	c, err := New(ctx, def, kvstore.NewMemory())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c.SetField(ctx, "name", "Paracetamol")
	c.Next(ctx)
	if err := c.ResetToStart(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Step() != 1 {
		t.Errorf("expected step 1 after reset, got %d", c.Step())
	}
	form := c.Form()
	if form["name"] != "" {
		t.Error("form must be cleared on reset")
	}
	if form["reminder_enabled"] != "false" {
		t.Error("defaults must be restored on reset")
	}
}

func TestPersistence_SurvivesReinit(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	c := newTestController(t, store)

	c.SetField(ctx, "name", "Paracetamol")
	c.Next(ctx)

	c2 := newTestController(t, store)
	if c2.Step() != 2 {
		t.Errorf("step lost across re-init, got %d", c2.Step())
	}
	if c2.Form()["name"] != "Paracetamol" {
		t.Error("form state lost across re-init")
	}
}

func TestSave_OnlyFromDesignatedSteps(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t, kvstore.NewMemory())

	submit := func(context.Context, map[string]string) error { return nil }
	if err := c.Save(ctx, submit); err == nil {
		t.Error("expected error saving from step 1")
	}

	c.SetField(ctx, "name", "Paracetamol")
	c.Next(ctx)
	if !c.CanSave() {
		t.Fatal("step 2 is a designated save step")
	}
	if err := c.Save(ctx, submit); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSave_SubmitFailurePropagates(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t, kvstore.NewMemory())
	c.SetField(ctx, "name", "Paracetamol")
	c.Next(ctx)

	err := c.Save(ctx, func(context.Context, map[string]string) error {
		return fmt.Errorf("backend down")
	})
	if err == nil {
		t.Fatal("expected save error")
	}
	if c.Step() != 2 {
		t.Error("failed save must not change the step")
	}
}

func TestTeardown_ClearsPersistedState(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	c := newTestController(t, store)
	c.SetField(ctx, "name", "Paracetamol")
	c.Next(ctx)

	if err := c.Teardown(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	keys, _ := store.Keys(ctx, "wizard.medicine.")
	if len(keys) != 0 {
		t.Errorf("expected no persisted wizard keys, got %v", keys)
	}
	if c.Step() != 1 || c.Form()["name"] != "" {
		t.Error("controller must reset on teardown")
	}
}

func TestMedicineDefinition_StepGates(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, MedicineDefinition(), kvstore.NewMemory())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c.SetField(ctx, "name", "Metformin")
	if err := c.Next(ctx); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing strength, got %v", err)
	}
	if c.Step() != MedicineStepIdentity {
		t.Errorf("expected to stay on step 1, got %d", c.Step())
	}
	if c.FieldErrors()["strength"] == "" {
		t.Error("expected a field error for strength")
	}

	c.SetField(ctx, "strength", "500mg")
	if err := c.Next(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Step() != MedicineStepSchedule {
		t.Errorf("expected step 2, got %d", c.Step())
	}

	// Short-circuit save is allowed from the dosing step but not earlier.
	if c.CanSave() {
		t.Error("saving must not be permitted from the schedule step")
	}
	c.SetField(ctx, "frequency", "twice daily")
	c.SetField(ctx, "start_date", "2024-06-01")
	if err := c.Next(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.SetField(ctx, "dose", "1")
	if !c.CanSave() {
		t.Error("saving must be permitted from the dosing step")
	}
}
