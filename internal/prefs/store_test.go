package prefs

import (
	"path/filepath"
	"reflect"
	"testing"
)

type store interface {
	Get(key string) (string, bool, error)
	Set(key string, value string) error
	Delete(key string) error
	Keys() ([]string, error)
	Close() error
}

func TestStoresRoundTrip(t *testing.T) {
	t.Parallel()

	sqliteStore, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "prefs.db"))
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}

	cases := map[string]store{
		"sqlite": sqliteStore,
		"memory": NewMemoryStore(),
	}
	for name, s := range cases {
		s := s
		t.Run(name, func(t *testing.T) {
			defer s.Close()

			if _, ok, err := s.Get("sessionId"); err != nil || ok {
				t.Fatalf("expected missing key, ok=%v err=%v", ok, err)
			}
			if err := s.Set("sessionId", "s-1"); err != nil {
				t.Fatalf("set failed: %v", err)
			}
			if err := s.Set("sessionId", "s-2"); err != nil {
				t.Fatalf("overwrite failed: %v", err)
			}
			if err := s.Set("difficulty", "0.6"); err != nil {
				t.Fatalf("set failed: %v", err)
			}

			value, ok, err := s.Get("sessionId")
			if err != nil || !ok || value != "s-2" {
				t.Fatalf("unexpected get: %q %v %v", value, ok, err)
			}

			keys, err := s.Keys()
			if err != nil {
				t.Fatalf("keys failed: %v", err)
			}
			if !reflect.DeepEqual(keys, []string{"difficulty", "sessionId"}) {
				t.Fatalf("unexpected keys: %v", keys)
			}

			if err := s.Delete("sessionId"); err != nil {
				t.Fatalf("delete failed: %v", err)
			}
			if _, ok, _ := s.Get("sessionId"); ok {
				t.Fatalf("expected key deleted")
			}
			if err := s.Delete("missing"); err != nil {
				t.Fatalf("deleting a missing key should succeed: %v", err)
			}
		})
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prefs.db")
	first, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := first.Set("stageNumber", "5"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	second, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()

	value, ok, err := second.Get("stageNumber")
	if err != nil || !ok || value != "5" {
		t.Fatalf("expected persisted value, got %q %v %v", value, ok, err)
	}
}

func TestSQLiteStoreInMemory(t *testing.T) {
	t.Parallel()

	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer s.Close()

	if err := s.Set("k", "v"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if value, ok, _ := s.Get("k"); !ok || value != "v" {
		t.Fatalf("expected in-memory value, got %q", value)
	}
}
