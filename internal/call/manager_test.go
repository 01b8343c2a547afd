package call

import (
	"errors"
	"testing"
)

func TestManager_CreateAndGet(t *testing.T) {
	m := NewManager()
	media := &fakeMedia{}

	s, err := m.Create("CA1", media, testAgent())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer s.Close()

	got, ok := m.Get("CA1")
	if !ok || got != s {
		t.Errorf("Get = %v, %v", got, ok)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d", m.Len())
	}

	if _, err := m.Create("CA1", media, testAgent()); !errors.Is(err, ErrSessionExists) {
		t.Errorf("duplicate create err = %v", err)
	}
}

func TestManager_Destroy(t *testing.T) {
	m := NewManager()
	media := &fakeMedia{}
	s, err := m.Create("CA1", media, testAgent())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	closed := false
	s.OnClose(func() error { closed = true; return nil })

	if err := m.Destroy("CA1"); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if !closed {
		t.Error("session closer not run")
	}
	if _, ok := m.Get("CA1"); ok {
		t.Error("session still registered after destroy")
	}

	if err := m.Destroy("CA1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second destroy err = %v", err)
	}
}

func TestManager_Shutdown(t *testing.T) {
	m := NewManager()
	media := &fakeMedia{}
	a, _ := m.Create("CA1", media, testAgent())
	b, _ := m.Create("CA2", media, testAgent())

	m.Shutdown()
	if m.Len() != 0 {
		t.Errorf("Len after shutdown = %d", m.Len())
	}
	select {
	case <-a.Context().Done():
	default:
		t.Error("session CA1 not cancelled")
	}
	select {
	case <-b.Context().Done():
	default:
		t.Error("session CA2 not cancelled")
	}
}
