package remedy

// BuiltinPatterns are the failure signatures shipped with the tool, in
// match-priority order. Operator pattern files are registered after these
// and can override any of them by ID.
func BuiltinPatterns() []*Pattern {
	return []*Pattern{
		{
			ID:          "permission_denied",
			Severity:    SeverityMedium,
			Description: "File or directory in the site tree is not writable",
			Expression:  `(?i)permission denied(?:[^'"]*['"](?P<path>[^'"]+)['"])?`,
			Command:     "chmod -R u+w {{.SitePath}}",
			Verify:      "test -w {{.SitePath}}",
		},
		{
			ID:          "module_missing",
			Severity:    SeverityMedium,
			Description: "A required CMS module is not enabled",
			Expression:  `module ['"]?(?P<module>[a-z][a-z0-9_]*)['"]? (?:is missing|not found|is not enabled)`,
			Command:     "ddev exec drush pm:enable -y {{.ModuleName}}",
			Verify:      "ddev exec drush pm:list --status=enabled --field=name | grep -qx {{.ModuleName}}",
		},
		{
			ID:          "database_connection",
			Severity:    SeverityCritical,
			Description: "The CMS cannot reach its database",
			Expression:  `(?i)(?:SQLSTATE\[HY000\]|connection refused.*database|can't connect to.*sql server)`,
			Command:     "ddev restart",
			Verify:      "ddev exec drush sql:query 'SELECT 1'",
		},
		{
			ID:          "memory_exhausted",
			Severity:    SeverityHigh,
			Description: "PHP ran out of memory during a CMS operation",
			Expression:  `(?i)allowed memory size of \d+ bytes exhausted`,
			Command:     "ddev exec drush cache:rebuild",
			Verify:      "ddev exec drush status --field=bootstrap",
		},
		{
			ID:          "config_import_conflict",
			Severity:    SeverityHigh,
			Description: "Configuration import aborted on conflicting entities",
			Expression:  `(?i)(?:site uuid.*does not match|entities exist of type.*delete them)`,
			Command:     "ddev exec drush config:import -y --partial",
			Verify:      "ddev exec drush config:status",
		},
		{
			ID:          "migrations_pending",
			Severity:    SeverityMedium,
			Description: "Database updates were left unapplied",
			Expression:  `(?i)database updates? (?:are |is )?(?:pending|required|outstanding)`,
			Command:     "ddev exec drush updatedb -y",
			Verify:      "ddev exec drush updatedb:status 2>&1 | grep -qi 'no database updates'",
		},
		{
			ID:          "runtime_not_running",
			Severity:    SeverityHigh,
			Description: "The site runtime is stopped",
			Expression:  `(?i)(?:project is not running|could not connect to.*daemon|runtime (?:is )?stopped)`,
			Command:     "ddev start",
			Verify:      "ddev exec true",
		},
	}
}

// RegisterBuiltins loads the builtin patterns into a registry.
func RegisterBuiltins(r *Registry) error {
	for _, p := range BuiltinPatterns() {
		if err := r.Register(p); err != nil {
			return err
		}
	}
	return nil
}
