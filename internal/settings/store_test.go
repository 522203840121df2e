package settings_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hro-mesh/meshapp/internal/settings"
)

const testPageSize = 2048 * 4 // 4 slots at the default 2048-byte slot size

func newTestStore(t *testing.T, dev settings.FlashDevice) *settings.Store {
	t.Helper()
	s, err := settings.New(context.Background(), dev, settings.WithDebounce(time.Hour))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewOnErasedDeviceStartsEmpty(t *testing.T) {
	t.Parallel()

	dev := settings.NewMemFlashDevice(testPageSize)
	s := newTestStore(t, dev)

	if _, found := s.Get(0x0100, 0); found {
		t.Error("expected empty store on a freshly erased device")
	}
}

func TestAddGetRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, settings.NewMemFlashDevice(testPageSize))

	if err := s.Add(0x0100, []byte("kitchen")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, found := s.Get(0x0100, 0)
	if !found {
		t.Fatal("expected record to be found")
	}
	if string(got) != "kitchen" {
		t.Errorf("Get = %q, want %q", got, "kitchen")
	}
}

func TestGetByOccurrenceIndex(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, settings.NewMemFlashDevice(testPageSize))
	if err := s.Add(0x0100, []byte("first")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(0x0100, []byte("second")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	first, ok := s.Get(0x0100, 0)
	if !ok || string(first) != "first" {
		t.Errorf("Get(index=0) = %q, %v", first, ok)
	}
	second, ok := s.Get(0x0100, 1)
	if !ok || string(second) != "second" {
		t.Errorf("Get(index=1) = %q, %v", second, ok)
	}
	if _, ok := s.Get(0x0100, 2); ok {
		t.Error("Get(index=2) should not find a third record")
	}
}

func TestSetReplacesAllOccurrences(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, settings.NewMemFlashDevice(testPageSize))
	_ = s.Add(0x0100, []byte("a"))
	_ = s.Add(0x0100, []byte("b"))

	if err := s.Set(0x0100, []byte("only")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, ok := s.Get(0x0100, 0)
	if !ok || string(v) != "only" {
		t.Errorf("Get(index=0) after Set = %q, %v", v, ok)
	}
	if _, ok := s.Get(0x0100, 1); ok {
		t.Error("Set should have removed the second occurrence")
	}
}

func TestDeleteFirstMatch(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, settings.NewMemFlashDevice(testPageSize))
	_ = s.Add(0x0100, []byte("a"))
	_ = s.Add(0x0100, []byte("b"))

	if err := s.Delete(0x0100, -1); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	v, ok := s.Get(0x0100, 0)
	if !ok || string(v) != "b" {
		t.Errorf("Get(index=0) after Delete = %q, %v, want \"b\"", v, ok)
	}
}

func TestDeleteByOccurrenceIndex(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, settings.NewMemFlashDevice(testPageSize))
	_ = s.Add(0x0100, []byte("a"))
	_ = s.Add(0x0100, []byte("b"))
	_ = s.Add(0x0100, []byte("c"))

	if err := s.Delete(0x0100, 1); err != nil {
		t.Fatalf("Delete(index=1): %v", err)
	}

	v, ok := s.Get(0x0100, 0)
	if !ok || string(v) != "a" {
		t.Errorf("Get(index=0) after Delete = %q, %v, want \"a\"", v, ok)
	}
	v, ok = s.Get(0x0100, 1)
	if !ok || string(v) != "c" {
		t.Errorf("Get(index=1) after Delete = %q, %v, want \"c\"", v, ok)
	}
	if _, ok := s.Get(0x0100, 2); ok {
		t.Error("third occurrence should be gone")
	}
}

func TestDeleteNotFound(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, settings.NewMemFlashDevice(testPageSize))
	if err := s.Delete(0x0999, -1); !errors.Is(err, settings.ErrNotFound) {
		t.Errorf("Delete on empty store error = %v, want ErrNotFound", err)
	}
}

func TestDeleteIndexPastLastOccurrence(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, settings.NewMemFlashDevice(testPageSize))
	_ = s.Add(0x0100, []byte("a"))

	if err := s.Delete(0x0100, 1); !errors.Is(err, settings.ErrNotFound) {
		t.Errorf("Delete past the last occurrence error = %v, want ErrNotFound", err)
	}
	if _, ok := s.Get(0x0100, 0); !ok {
		t.Error("failed Delete must not remove the surviving record")
	}
}

func TestWipeClearsAllRecords(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, settings.NewMemFlashDevice(testPageSize))
	_ = s.Add(0x0100, []byte("a"))
	s.Wipe()

	if _, ok := s.Get(0x0100, 0); ok {
		t.Error("Get after Wipe should find nothing")
	}
}

func TestAddNoBufsWhenSlotFull(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, settings.NewMemFlashDevice(testPageSize))
	big := make([]byte, 2048)
	if err := s.Add(0x0100, big); !errors.Is(err, settings.ErrNoBufs) {
		t.Errorf("Add oversized value error = %v, want ErrNoBufs", err)
	}
}

func TestFlushPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dev := settings.NewMemFlashDevice(testPageSize)
	s := newTestStore(t, dev)

	if err := s.Add(0x0100, []byte("kitchen_2_588c81fffe301ea4")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.FlushNow(ctx); err != nil {
		t.Fatalf("FlushNow: %v", err)
	}

	reopened, err := settings.New(ctx, dev)
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	v, ok := reopened.Get(0x0100, 0)
	if !ok || string(v) != "kitchen_2_588c81fffe301ea4" {
		t.Errorf("Get after reopen = %q, %v", v, ok)
	}
	if !reopened.Flushed() {
		t.Error("reopened store should report a previously flushed slot")
	}
}

func TestFlushRotatesSlotsAndErasesOnWrap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dev := settings.NewMemFlashDevice(2048 * 2) // exactly two slots
	s := newTestStore(t, dev)

	for i := 0; i < 3; i++ {
		if err := s.Set(0x0100, []byte{byte(i)}); err != nil {
			t.Fatalf("Set #%d: %v", i, err)
		}
		if err := s.FlushNow(ctx); err != nil {
			t.Fatalf("FlushNow #%d: %v", i, err)
		}
	}

	v, ok := s.Get(0x0100, 0)
	if !ok || len(v) != 1 || v[0] != 2 {
		t.Errorf("Get after rotation = %v, %v, want [2]", v, ok)
	}

	reopened, err := settings.New(ctx, dev)
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	v, ok = reopened.Get(0x0100, 0)
	if !ok || len(v) != 1 || v[0] != 2 {
		t.Errorf("Get after reopen following rotation = %v, %v, want [2]", v, ok)
	}
}

func TestRunFlushesOnDebounceExpiry(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dev := settings.NewMemFlashDevice(testPageSize)
	s, err := settings.New(ctx, dev, settings.WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	if err := s.Add(0x0100, []byte("kitchen")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if s.Flushed() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for debounced flush")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}
