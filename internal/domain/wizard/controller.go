package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/medidraft/medidraft/internal/platform/kvstore"
)

// ErrValidation is returned by Next and Save when the current step's
// validator reports field errors. The errors are available via FieldErrors.
var ErrValidation = errors.New("wizard: step validation failed")

// Validator checks a step's fields and returns per-field error messages.
// An empty (or nil) map means the step is valid.
type Validator func(form map[string]string) map[string]string

// Definition describes one wizard flow: its step count, per-step
// validators, the steps a save action is permitted from, and the initial
// form defaults.
type Definition struct {
	Kind       string
	Steps      int
	Validators map[int]Validator
	SaveSteps  map[int]bool
	Defaults   map[string]string
}

// Controller is a linear step machine over [1, Steps]. Forward navigation is
// gated by the current step's validator; step and form state are persisted
// write-through under wizard.{kind}.* keys.
type Controller struct {
	def   Definition
	store kvstore.Store

	step int
	form map[string]string
	errs map[string]string
}

// New creates the controller for a flow, restoring any persisted step and
// form state.
func New(ctx context.Context, def Definition, store kvstore.Store) (*Controller, error) {
	if def.Steps < 1 {
		return nil, fmt.Errorf("wizard %s: step count must be at least 1, got %d", def.Kind, def.Steps)
	}
	c := &Controller{
		def:   def,
		store: store,
		step:  1,
		form:  make(map[string]string),
		errs:  make(map[string]string),
	}
	for k, v := range def.Defaults {
		c.form[k] = v
	}
	if err := c.hydrate(ctx); err != nil {
		return nil, fmt.Errorf("init wizard %s: %w", def.Kind, err)
	}
	return c, nil
}

func (c *Controller) stepKey() string { return "wizard." + c.def.Kind + ".step" }
func (c *Controller) formKey() string { return "wizard." + c.def.Kind + ".formState" }

func (c *Controller) hydrate(ctx context.Context) error {
	if data, err := c.store.Get(ctx, c.stepKey()); err == nil {
		step, convErr := strconv.Atoi(string(data))
		if convErr != nil {
			return fmt.Errorf("decode step: %w", convErr)
		}
		c.step = clamp(step, 1, c.def.Steps)
	} else if !errors.Is(err, kvstore.ErrNotFound) {
		return err
	}

	if data, err := c.store.Get(ctx, c.formKey()); err == nil {
		form := make(map[string]string)
		if jsonErr := json.Unmarshal(data, &form); jsonErr != nil {
			return fmt.Errorf("decode form state: %w", jsonErr)
		}
		c.form = form
	} else if !errors.Is(err, kvstore.ErrNotFound) {
		return err
	}
	return nil
}

func (c *Controller) persist(ctx context.Context) error {
	if err := c.store.Put(ctx, c.stepKey(), []byte(strconv.Itoa(c.step))); err != nil {
		return fmt.Errorf("persist wizard %s: %w", c.def.Kind, err)
	}
	data, err := json.Marshal(c.form)
	if err != nil {
		return fmt.Errorf("encode form state: %w", err)
	}
	if err := c.store.Put(ctx, c.formKey(), data); err != nil {
		return fmt.Errorf("persist wizard %s: %w", c.def.Kind, err)
	}
	return nil
}

// SetField writes one form field and persists.
func (c *Controller) SetField(ctx context.Context, name, value string) error {
	c.form[name] = value
	return c.persist(ctx)
}

// Next validates the current step. On field errors the step does not change
// and ErrValidation is returned; otherwise the wizard advances (clamped to
// the last step) and previous field errors are cleared.
func (c *Controller) Next(ctx context.Context) error {
	if errs := c.validate(c.step); len(errs) > 0 {
		c.errs = errs
		return ErrValidation
	}
	c.errs = map[string]string{}
	c.step = clamp(c.step+1, 1, c.def.Steps)
	return c.persist(ctx)
}

// Back moves one step back without validation, clamped to the first step.
func (c *Controller) Back(ctx context.Context) error {
	c.step = clamp(c.step-1, 1, c.def.Steps)
	return c.persist(ctx)
}

// ResetToStart returns to step 1 with the form reset to its defaults. Used
// after "save and add another".
func (c *Controller) ResetToStart(ctx context.Context) error {
	c.step = 1
	c.form = make(map[string]string)
	for k, v := range c.def.Defaults {
		c.form[k] = v
	}
	c.errs = map[string]string{}
	return c.persist(ctx)
}

// CanSave reports whether a save action is permitted from the current step.
// The final step always permits it.
func (c *Controller) CanSave() bool {
	return c.step == c.def.Steps || c.def.SaveSteps[c.step]
}

// Save validates the current step and submits the form. The session's form
// state is handed to submit as-is; the caller decides between ResetToStart
// (save and add another) and Teardown afterwards.
func (c *Controller) Save(ctx context.Context, submit func(ctx context.Context, form map[string]string) error) error {
	if !c.CanSave() {
		return fmt.Errorf("wizard %s: saving is not permitted from step %d", c.def.Kind, c.step)
	}
	if errs := c.validate(c.step); len(errs) > 0 {
		c.errs = errs
		return ErrValidation
	}
	c.errs = map[string]string{}
	if err := submit(ctx, c.Form()); err != nil {
		return fmt.Errorf("save wizard %s: %w", c.def.Kind, err)
	}
	return nil
}

// Teardown removes the persisted wizard state and resets the controller.
func (c *Controller) Teardown(ctx context.Context) error {
	if err := c.store.DeletePrefix(ctx, "wizard."+c.def.Kind+"."); err != nil {
		return fmt.Errorf("teardown wizard %s: %w", c.def.Kind, err)
	}
	c.step = 1
	c.form = make(map[string]string)
	for k, v := range c.def.Defaults {
		c.form[k] = v
	}
	c.errs = map[string]string{}
	return nil
}

func (c *Controller) validate(step int) map[string]string {
	v := c.def.Validators[step]
	if v == nil {
		return nil
	}
	return v(c.form)
}

// Step returns the current step in [1, Steps].
func (c *Controller) Step() int { return c.step }

// FieldErrors returns the field errors from the last failed validation.
func (c *Controller) FieldErrors() map[string]string {
	out := make(map[string]string, len(c.errs))
	for k, v := range c.errs {
		out[k] = v
	}
	return out
}

// Form returns a copy of the current form state.
func (c *Controller) Form() map[string]string {
	out := make(map[string]string, len(c.form))
	for k, v := range c.form {
		out[k] = v
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
