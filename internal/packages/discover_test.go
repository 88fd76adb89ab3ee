package packages

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

const fixtureSource = `package billing

// ChargeInput is the input shape for charge_customer.
type ChargeInput struct {
	CustomerID string  ` + "`json:\"customer_id\"`" + `
	AmountCents int    ` + "`json:\"amount_cents\"`" + `
}

// ChargeResult is returned by charge_customer.
type ChargeResult struct {
	ChargeID string ` + "`json:\"charge_id\"`" + `
	Succeeded bool  ` + "`json:\"succeeded\"`" + `
}

// charge_customer charges a customer's saved payment method.
//
//actionserver:action
//actionserver:consequential
func ChargeCustomer(customerID string, amountCents int, secret Secret) (ChargeResult, error) {
	return ChargeResult{}, nil
}

//actionserver:query
func ListCharges(customerID string) ([]ChargeResult, error) {
	return nil, nil
}

//actionserver:tool
func Undocumented(x string) (string, error) {
	return "", nil
}

func notAnAction(x int) int {
	return x
}
`

func TestDiscoverExtractsMarkedActionsOnly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "billing.go"), fixtureSource)

	specs, warnings, err := Discover(dir)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("expected 3 discovered actions, got %d: %+v", len(specs), specs)
	}

	byName := map[string]ActionSpec{}
	for _, s := range specs {
		byName[s.Name] = s
	}

	charge, ok := byName["ChargeCustomer"]
	if !ok {
		t.Fatalf("expected ChargeCustomer to be discovered")
	}
	if charge.Kind != "action" {
		t.Fatalf("expected kind action, got %s", charge.Kind)
	}
	if charge.IsConsequential == nil || !*charge.IsConsequential {
		t.Fatalf("expected consequential=true, got %+v", charge.IsConsequential)
	}
	if len(charge.ManagedParams) != 1 || charge.ManagedParams[0].Kind != ManagedSecret {
		t.Fatalf("expected one managed secret param, got %+v", charge.ManagedParams)
	}

	var inputSchema map[string]any
	if err := json.Unmarshal([]byte(charge.InputSchema), &inputSchema); err != nil {
		t.Fatalf("decode input schema: %v", err)
	}
	props := inputSchema["properties"].(map[string]any)
	if _, ok := props["secret"]; ok {
		t.Fatalf("managed param must not appear in the input schema")
	}
	if _, ok := props["customerID"]; !ok {
		t.Fatalf("expected customerID in input schema properties: %+v", props)
	}

	undocumented, ok := byName["Undocumented"]
	if !ok {
		t.Fatalf("expected Undocumented to be discovered despite missing docstring")
	}
	if undocumented.Docs != "" {
		t.Fatalf("expected empty docstring, got %q", undocumented.Docs)
	}

	foundMissingDocWarning := false
	for _, w := range warnings {
		if w.Action == "Undocumented" && w.Severity == SeverityWarning {
			foundMissingDocWarning = true
		}
	}
	if !foundMissingDocWarning {
		t.Fatalf("expected a missing-docstring warning for Undocumented, got %+v", warnings)
	}
}

func TestDiscoverIgnoresUnmarkedFunctions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "billing.go"), fixtureSource)

	specs, _, err := Discover(dir)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	for _, s := range specs {
		if s.Name == "notAnAction" {
			t.Fatalf("unmarked function must not be discovered")
		}
	}
}

func TestDiscoverRejectsUnrecognizedKindAsLintError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bad.go"), `package badpkg

//actionserver:widget
func DoWidget() error {
	return nil
}
`)

	specs, warnings, err := Discover(dir)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(specs) != 0 {
		t.Fatalf("expected no specs for an unrecognized kind, got %+v", specs)
	}
	if len(warnings) != 1 || warnings[0].Severity != SeverityError {
		t.Fatalf("expected one error-severity warning, got %+v", warnings)
	}
}
