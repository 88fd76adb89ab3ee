package packages

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marcus-qen/actionserver/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func writePackage(t *testing.T, dir string, actions string) {
	t.Helper()
	writeFile(t, filepath.Join(dir, "package.yaml"), "name: billing\ndepends_on:\n  - requests\n")
	writeFile(t, filepath.Join(dir, "actions.go"), "package billing\n\n"+actions)
}

func TestImportPersistsPackageAndActions(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()
	writePackage(t, dir, `
// charge a customer.
//
//actionserver:action
func ChargeCustomer(customerID string) (string, error) {
	return "", nil
}
`)

	diff, err := Import(ctx, st, dir, Options{})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if diff.PackageName != "billing" || diff.PackageID == "" {
		t.Fatalf("unexpected diff: %+v", diff)
	}
	if len(diff.UpsertedNames) != 1 || diff.UpsertedNames[0] != "ChargeCustomer" {
		t.Fatalf("unexpected upserted names: %+v", diff.UpsertedNames)
	}

	pkg, err := st.GetActionPackageByName(ctx, "billing")
	if err != nil {
		t.Fatalf("get package: %v", err)
	}
	actions, err := st.ListActions(ctx, pkg.ID)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(actions) != 1 || actions[0].Name != "ChargeCustomer" || !actions[0].Enabled {
		t.Fatalf("unexpected actions: %+v", actions)
	}
}

func TestImportDisablesActionsRemovedFromSource(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()
	writePackage(t, dir, `
//actionserver:action
func ChargeCustomer(customerID string) (string, error) {
	return "", nil
}

//actionserver:action
func RefundCustomer(customerID string) (string, error) {
	return "", nil
}
`)
	if _, err := Import(ctx, st, dir, Options{}); err != nil {
		t.Fatalf("first import: %v", err)
	}

	writePackage(t, dir, `
//actionserver:action
func ChargeCustomer(customerID string) (string, error) {
	return "", nil
}
`)
	diff, err := Import(ctx, st, dir, Options{})
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if len(diff.DisabledNames) != 1 || diff.DisabledNames[0] != "RefundCustomer" {
		t.Fatalf("expected RefundCustomer disabled, got %+v", diff.DisabledNames)
	}

	pkg, _ := st.GetActionPackageByName(ctx, "billing")
	actions, err := st.ListActions(ctx, pkg.ID)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	found := false
	for _, a := range actions {
		if a.Name == "RefundCustomer" {
			found = true
			if a.Enabled {
				t.Fatalf("expected RefundCustomer disabled, not deleted")
			}
		}
	}
	if !found {
		t.Fatalf("expected RefundCustomer row to survive disabled, not deleted")
	}
}

func TestImportFailsOnLintErrorUnlessSkipped(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()
	writePackage(t, dir, `
//actionserver:bogus
func Broken() error {
	return nil
}
`)

	if _, err := Import(ctx, st, dir, Options{}); err == nil {
		t.Fatalf("expected import to fail on a lint error")
	}

	diff, err := Import(ctx, st, dir, Options{SkipLint: true})
	if err != nil {
		t.Fatalf("expected SkipLint import to succeed: %v", err)
	}
	if len(diff.UpsertedNames) != 0 {
		t.Fatalf("expected no actions upserted for an all-rejected scan, got %+v", diff.UpsertedNames)
	}
}
