package session

import (
	"context"
	"path/filepath"
	"testing"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	sqliteStore, err := OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, ok, err := s.Get(ctx, KeyUserID); err != nil || ok {
				t.Fatalf("Get(missing) = ok %v, err %v", ok, err)
			}
			if err := s.Set(ctx, KeyUserID, "a"); err != nil {
				t.Fatal(err)
			}
			if err := s.Set(ctx, KeyUserID, "b"); err != nil {
				t.Fatal(err)
			}
			v, ok, err := s.Get(ctx, KeyUserID)
			if err != nil || !ok || v != "b" {
				t.Errorf("Get() = %q, %v, %v; want b", v, ok, err)
			}

			_ = s.Set(ctx, KeyAPIKey, "k")
			if err := s.Delete(ctx, KeyUserID, KeyAPIKey, KeyStudyEndTime); err != nil {
				t.Fatal(err)
			}
			for _, key := range []string{KeyUserID, KeyAPIKey} {
				if _, ok, _ := s.Get(ctx, key); ok {
					t.Errorf("%s survived Delete", key)
				}
			}
		})
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")

	s, err := OpenSQLiteStore(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	m := NewMachine(s, &serviceValidator{}, testPolicies(), WithScheduler(&fakeScheduler{}))
	if _, err := m.LoginWithAPIKey(ctx, "sk-live"); err != nil {
		t.Fatal(err)
	}
	m.Close()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = OpenSQLiteStore(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	m = NewMachine(s, &serviceValidator{}, testPolicies(), WithScheduler(&fakeScheduler{}))
	m.Restore(ctx)
	if p := m.Principal(); p.Method != MethodAPIKey || p.APIKey != "sk-live" {
		t.Errorf("Principal() after reopen = %+v", p)
	}
}
