package steps

import (
	"testing"
)

func TestCatalogOrdinalsContiguous(t *testing.T) {
	for _, env := range []Environment{EnvDevelopment, EnvStaging, EnvProduction} {
		catalog := CatalogFor(env)
		if len(catalog) != TotalSteps(env) {
			t.Errorf("%s: catalog length %d != TotalSteps %d", env, len(catalog), TotalSteps(env))
		}
		for i, def := range catalog {
			if def.Ordinal != i+1 {
				t.Errorf("%s: step %q has ordinal %d, want %d", env, def.Key, def.Ordinal, i+1)
			}
		}
	}
}

func TestCatalogBaseStepsFirst(t *testing.T) {
	dev := CatalogFor(EnvDevelopment)
	prod := CatalogFor(EnvProduction)

	for i := range baseSteps {
		if dev[i].Key != prod[i].Key {
			t.Fatalf("base step %d differs across environments: %q vs %q", i+1, dev[i].Key, prod[i].Key)
		}
	}
	if dev[len(baseSteps)].Key != "enable_dev_modules" {
		t.Errorf("development suffix should start after base steps, got %q", dev[len(baseSteps)].Key)
	}
}

func TestCatalogKeysUnique(t *testing.T) {
	for _, env := range []Environment{EnvDevelopment, EnvStaging, EnvProduction} {
		seen := map[string]bool{}
		for _, def := range CatalogFor(env) {
			if seen[def.Key] {
				t.Errorf("%s: duplicate step key %q", env, def.Key)
			}
			seen[def.Key] = true
		}
	}
}

func TestTotalSteps(t *testing.T) {
	for _, env := range []Environment{EnvDevelopment, EnvStaging, EnvProduction} {
		want := len(baseSteps) + len(suffixSteps[env])
		if got := TotalSteps(env); got != want {
			t.Errorf("%s: TotalSteps = %d, want %d", env, got, want)
		}
	}
}

func TestByOrdinal(t *testing.T) {
	def, err := ByOrdinal(EnvDevelopment, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Key != "validate_settings" {
		t.Errorf("ordinal 1 = %q, want validate_settings", def.Key)
	}

	if _, err := ByOrdinal(EnvDevelopment, 0); err == nil {
		t.Error("expected error for ordinal 0")
	}
	if _, err := ByOrdinal(EnvDevelopment, TotalSteps(EnvDevelopment)+1); err == nil {
		t.Error("expected error for ordinal past catalog end")
	}
}

func TestParseEnvironment(t *testing.T) {
	if _, err := ParseEnvironment("development"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := ParseEnvironment("qa"); err == nil {
		t.Error("expected error for unknown environment")
	}
}
