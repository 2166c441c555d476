package kvstore

import (
	"context"
	"errors"
	"testing"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	file, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return map[string]Store{
		"memory": NewMemory(),
		"file":   file,
	}
}

func TestPutGet(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Put(ctx, "draft.lab-report.12.scalars", []byte(`{"title":"CBC"}`)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got, err := s.Get(ctx, "draft.lab-report.12.scalars")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != `{"title":"CBC"}` {
				t.Errorf("unexpected value: %s", got)
			}
		})
	}
}

func TestGet_NotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "missing")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestDelete_Idempotent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s.Put(ctx, "k", []byte("v"))
			if err := s.Delete(ctx, "k"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := s.Delete(ctx, "k"); err != nil {
				t.Errorf("deleting an absent key must not fail, got %v", err)
			}
			if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestDeletePrefix(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s.Put(ctx, "draft.lab-report.12.scalars", []byte("a"))
			s.Put(ctx, "draft.lab-report.12.tags.selected", []byte("b"))
			s.Put(ctx, "draft.lab-report.13.scalars", []byte("c"))
			s.Put(ctx, "wizard.medicine.step", []byte("d"))

			if err := s.DeletePrefix(ctx, "draft.lab-report.12."); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			keys, err := s.Keys(ctx, "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(keys) != 2 {
				t.Fatalf("expected 2 surviving keys, got %v", keys)
			}
			for _, k := range keys {
				if k != "draft.lab-report.13.scalars" && k != "wizard.medicine.step" {
					t.Errorf("unexpected surviving key %s", k)
				}
			}
		})
	}
}

func TestKeys_PrefixFilterAndOrder(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s.Put(ctx, "draft.prescription.7.scalars", []byte("a"))
			s.Put(ctx, "draft.prescription.7.images.items", []byte("b"))
			s.Put(ctx, "draft.medicine.new.scalars", []byte("c"))

			keys, err := s.Keys(ctx, "draft.prescription.")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(keys) != 2 {
				t.Fatalf("expected 2 keys, got %v", keys)
			}
			if keys[0] != "draft.prescription.7.images.items" || keys[1] != "draft.prescription.7.scalars" {
				t.Errorf("expected sorted keys, got %v", keys)
			}
		})
	}
}
