package question

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "questions.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateAndByCompany(t *testing.T) {
	store := newTestStore(t)

	first, err := store.Create("Acme", "Why do you want to work here?")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if first.ID == "" {
		t.Fatal("expected assigned id")
	}

	if _, err := store.Create("Acme", "Describe a hard bug you fixed."); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.Create("Globex", "Tell me about yourself."); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	acme, err := store.ByCompany("Acme")
	if err != nil {
		t.Fatalf("ByCompany failed: %v", err)
	}
	if len(acme) != 2 {
		t.Fatalf("expected 2 Acme questions, got %d", len(acme))
	}
	for _, q := range acme {
		if q.Company != "Acme" {
			t.Fatalf("unexpected company %q", q.Company)
		}
		if q.CreatedAt.IsZero() {
			t.Fatal("expected created_at round trip")
		}
	}
}

func TestCreateRejectsBlankFields(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Create("  ", "text"); err == nil {
		t.Fatal("expected error for blank company")
	}
	if _, err := store.Create("Acme", ""); err == nil {
		t.Fatal("expected error for blank text")
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)

	q, err := store.Create("Acme", "Why Go?")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := store.Delete(q.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(q.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for unknown id, got %v", err)
	}

	remaining, err := store.ByCompany("Acme")
	if err != nil {
		t.Fatalf("ByCompany failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected empty bank, got %d", len(remaining))
	}
}

func TestAllWithFilter(t *testing.T) {
	store := newTestStore(t)

	for _, c := range []string{"Acme", "Acme", "Globex"} {
		if _, err := store.Create(c, "question for "+c); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	all, err := store.All("")
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(all))
	}

	filtered, err := store.All("Globex")
	if err != nil {
		t.Fatalf("All with filter failed: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Company != "Globex" {
		t.Fatalf("unexpected filtered result: %+v", filtered)
	}
}

func TestCompaniesAndCounts(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		if _, err := store.Create("Acme", "q"); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	if _, err := store.Create("Globex", "q"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	companies, err := store.Companies()
	if err != nil {
		t.Fatalf("Companies failed: %v", err)
	}
	if len(companies) != 2 {
		t.Fatalf("expected 2 companies, got %d", len(companies))
	}
	if companies[0].Company != "Acme" || companies[0].Count != 5 {
		t.Fatalf("unexpected first company: %+v", companies[0])
	}
	if companies[1].Company != "Globex" || companies[1].Count != 1 {
		t.Fatalf("unexpected second company: %+v", companies[1])
	}

	n, err := store.CountByCompany("Acme")
	if err != nil {
		t.Fatalf("CountByCompany failed: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 Acme questions, got %d", n)
	}
}
