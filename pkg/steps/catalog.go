// Package steps defines the ordered deployment step catalog and the tracker
// that persists per-site progress through it.
package steps

import (
	"fmt"
)

// Environment is a deployment target environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// ParseEnvironment validates and normalizes an environment name.
func ParseEnvironment(name string) (Environment, error) {
	switch Environment(name) {
	case EnvDevelopment, EnvStaging, EnvProduction:
		return Environment(name), nil
	default:
		return "", fmt.Errorf("unknown environment %q (want development, staging, or production)", name)
	}
}

// StepDefinition describes one named deployment step.
type StepDefinition struct {
	// Ordinal is the 1-based position of the step within its catalog.
	Ordinal int

	// Key is the stable machine-readable step identifier.
	Key string

	// Title is the short human-readable step name.
	Title string

	// Description explains what the step does.
	Description string
}

// baseSteps are shared by every environment and always run first.
var baseSteps = []StepDefinition{
	{Key: "validate_settings", Title: "Validate site settings", Description: "Check the site entry in the settings file for required fields and safe identifiers."},
	{Key: "init_runtime", Title: "Initialize runtime configuration", Description: "Write the site runtime's project configuration if it does not exist yet."},
	{Key: "start_runtime", Title: "Start site runtime", Description: "Bring up the site runtime containers."},
	{Key: "install_dependencies", Title: "Install code dependencies", Description: "Install the site's package dependencies inside the runtime."},
	{Key: "acquire_dataset", Title: "Acquire working dataset", Description: "Populate the site database from the best available source."},
	{Key: "import_config", Title: "Import configuration", Description: "Apply the exported CMS configuration to the target."},
	{Key: "apply_migrations", Title: "Apply pending migrations", Description: "Run any pending database or content migrations."},
	{Key: "rebuild_caches", Title: "Rebuild derived caches", Description: "Rebuild CMS caches after data and configuration changes."},
}

// suffixSteps are appended per environment after the base sequence.
var suffixSteps = map[Environment][]StepDefinition{
	EnvDevelopment: {
		{Key: "enable_dev_modules", Title: "Enable development modules", Description: "Enable debugging and development helper modules."},
		{Key: "disable_cache_layers", Title: "Disable cache layers", Description: "Turn off page and render caching for local iteration."},
	},
	EnvStaging: {
		{Key: "verify_sanitization", Title: "Verify data sanitization", Description: "Confirm no production PII survived acquisition."},
		{Key: "enable_staging_settings", Title: "Enable staging settings", Description: "Apply staging-specific overrides such as outbound mail capture."},
	},
	EnvProduction: {
		{Key: "enable_production_hardening", Title: "Enable production hardening", Description: "Disable development modules and enforce production settings."},
		{Key: "warm_caches", Title: "Warm caches", Description: "Prime page and render caches before traffic arrives."},
	},
}

// CatalogFor returns the ordered step list for an environment: base steps
// first, then the environment suffix, with contiguous ordinals from 1. The
// result is a fresh slice on every call.
func CatalogFor(environment Environment) []StepDefinition {
	suffix := suffixSteps[environment]
	catalog := make([]StepDefinition, 0, len(baseSteps)+len(suffix))

	ordinal := 1
	for _, def := range baseSteps {
		def.Ordinal = ordinal
		catalog = append(catalog, def)
		ordinal++
	}
	for _, def := range suffix {
		def.Ordinal = ordinal
		catalog = append(catalog, def)
		ordinal++
	}
	return catalog
}

// TotalSteps returns the number of steps in the environment's catalog.
func TotalSteps(environment Environment) int {
	return len(baseSteps) + len(suffixSteps[environment])
}

// ByOrdinal returns the step definition at the given ordinal, or an error
// when the ordinal is out of range for the environment.
func ByOrdinal(environment Environment, ordinal int) (StepDefinition, error) {
	catalog := CatalogFor(environment)
	if ordinal < 1 || ordinal > len(catalog) {
		return StepDefinition{}, fmt.Errorf("step %d out of range for %s (1..%d)", ordinal, environment, len(catalog))
	}
	return catalog[ordinal-1], nil
}
