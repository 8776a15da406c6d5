package database

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// storeFactories returns every backend the contract tests run against.
// Postgres joins only when FILEDROP_TEST_POSTGRES_DSN is set.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	factories := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(":memory:", nil)
			if err != nil {
				t.Fatalf("NewSQLiteStore() error = %v", err)
			}
			return s
		},
	}
	if dsn := strings.TrimSpace(os.Getenv("FILEDROP_TEST_POSTGRES_DSN")); dsn != "" {
		factories["postgres"] = func(t *testing.T) Store {
			s, err := NewPostgresStore(dsn)
			if err != nil {
				t.Fatalf("NewPostgresStore() error = %v", err)
			}
			return s
		}
	}
	return factories
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { s.Close() })
			fn(t, s)
		})
	}
}

// uniqueScope keeps postgres runs from seeing each other's rows.
func uniqueScope(t *testing.T) string {
	return strings.ReplaceAll(t.Name(), "/", "_") + "-" + time.Now().Format("150405.000000000")
}

func TestStore_GetAbsent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		got, err := s.Get(context.Background(), uniqueScope(t), "files")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got != nil {
			t.Errorf("Get() = %q, want nil", got)
		}
	})
}

func TestStore_PutGetOverwrite(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		scope := uniqueScope(t)

		if err := s.Put(ctx, scope, "files", []byte(`{"a":1}`)); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := s.Put(ctx, scope, "files", []byte(`{"b":2}`)); err != nil {
			t.Fatalf("second Put() error = %v", err)
		}

		got, err := s.Get(ctx, scope, "files")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if !bytes.Equal(got, []byte(`{"b":2}`)) {
			t.Errorf("Get() = %q, want %q", got, `{"b":2}`)
		}

		other, err := s.Get(ctx, scope, "logs")
		if err != nil {
			t.Fatalf("Get(logs) error = %v", err)
		}
		if other != nil {
			t.Errorf("Get(logs) = %q, want nil", other)
		}
	})
}

func TestStore_DeleteAll(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		scope := uniqueScope(t)
		keep := scope + "-other"

		for _, field := range []string{"files", "logs"} {
			if err := s.Put(ctx, scope, field, []byte("x")); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
		}
		if err := s.Put(ctx, keep, "files", []byte("y")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := s.SaveDeadline(ctx, scope, time.Now().Add(time.Hour)); err != nil {
			t.Fatalf("SaveDeadline() error = %v", err)
		}

		if err := s.DeleteAll(ctx, scope); err != nil {
			t.Fatalf("DeleteAll() error = %v", err)
		}
		// Deleting an empty scope succeeds.
		if err := s.DeleteAll(ctx, scope); err != nil {
			t.Fatalf("second DeleteAll() error = %v", err)
		}

		for _, field := range []string{"files", "logs"} {
			got, err := s.Get(ctx, scope, field)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got != nil {
				t.Errorf("Get(%s) after DeleteAll = %q, want nil", field, got)
			}
		}
		got, err := s.Get(ctx, keep, "files")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != "y" {
			t.Errorf("other scope was affected: got %q", got)
		}

		deadlines, err := s.ListDeadlines(ctx)
		if err != nil {
			t.Fatalf("ListDeadlines() error = %v", err)
		}
		for _, d := range deadlines {
			if d.ScopeID == scope {
				t.Errorf("deadline of %s survived DeleteAll", scope)
			}
		}
	})
}

func TestStore_Deadlines(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		scope := uniqueScope(t)
		a, b := scope+"-a", scope+"-b"
		base := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

		if err := s.SaveDeadline(ctx, a, base.Add(2*time.Hour)); err != nil {
			t.Fatalf("SaveDeadline(a) error = %v", err)
		}
		if err := s.SaveDeadline(ctx, b, base.Add(time.Hour)); err != nil {
			t.Fatalf("SaveDeadline(b) error = %v", err)
		}
		// Overwrites, never accumulates.
		if err := s.SaveDeadline(ctx, a, base.Add(30*time.Minute)); err != nil {
			t.Fatalf("SaveDeadline(a) overwrite error = %v", err)
		}

		deadlines, err := s.ListDeadlines(ctx)
		if err != nil {
			t.Fatalf("ListDeadlines() error = %v", err)
		}
		var mine []string
		for _, d := range deadlines {
			switch d.ScopeID {
			case a:
				if !d.At.Equal(base.Add(30 * time.Minute)) {
					t.Errorf("deadline of a = %v, want %v", d.At, base.Add(30*time.Minute))
				}
				mine = append(mine, "a")
			case b:
				mine = append(mine, "b")
			}
		}
		if strings.Join(mine, ",") != "a,b" {
			t.Errorf("deadline order = %v, want [a b]", mine)
		}

		if err := s.DeleteDeadline(ctx, a); err != nil {
			t.Fatalf("DeleteDeadline() error = %v", err)
		}
		deadlines, err = s.ListDeadlines(ctx)
		if err != nil {
			t.Fatalf("ListDeadlines() error = %v", err)
		}
		for _, d := range deadlines {
			if d.ScopeID == a {
				t.Error("deadline of a survived DeleteDeadline")
			}
		}
	})
}
