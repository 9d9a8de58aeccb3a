package runtime

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// CMS wraps the CMS administrator CLI, invoked through the runtime's Exec.
// Subcommand behavior is opaque; only exit codes and output are interpreted.
type CMS struct {
	runtime Runtime
	binary  string
}

// NewCMS creates a CMS administrator over the given runtime.
func NewCMS(rt Runtime, binary string) *CMS {
	return &CMS{runtime: rt, binary: binary}
}

// Binary returns the CMS CLI name, used by preflight tool checks.
func (c *CMS) Binary() string {
	return c.binary
}

func (c *CMS) exec(ctx context.Context, siteID string, args ...string) (string, error) {
	command := append([]string{c.binary}, args...)
	out, code, err := c.runtime.Exec(ctx, siteID, command...)
	if err != nil {
		return out, err
	}
	if code != 0 {
		return out, fmt.Errorf("%s %s failed (exit %d): %s", c.binary, args[0], code, firstLine(out))
	}
	return out, nil
}

// Status runs the administrative status query.
func (c *CMS) Status(ctx context.Context, siteID string) (string, error) {
	return c.exec(ctx, siteID, "status")
}

// CacheRebuild rebuilds all derived caches.
func (c *CMS) CacheRebuild(ctx context.Context, siteID string) error {
	_, err := c.exec(ctx, siteID, "cache:rebuild")
	return err
}

// PendingMigrations reports whether database updates are outstanding.
func (c *CMS) PendingMigrations(ctx context.Context, siteID string) (bool, error) {
	out, code, err := c.runtime.Exec(ctx, siteID, c.binary, "updatedb:status")
	if err != nil {
		return false, err
	}
	if code != 0 {
		return false, fmt.Errorf("%s updatedb:status failed (exit %d): %s", c.binary, code, firstLine(out))
	}
	// An empty report means nothing pending.
	return strings.TrimSpace(out) != "" && !strings.Contains(strings.ToLower(out), "no database updates"), nil
}

// ApplyMigrations runs outstanding database updates.
func (c *CMS) ApplyMigrations(ctx context.Context, siteID string) error {
	_, err := c.exec(ctx, siteID, "updatedb", "-y")
	return err
}

// ConfigImport applies the exported configuration to the site.
func (c *CMS) ConfigImport(ctx context.Context, siteID string) error {
	_, err := c.exec(ctx, siteID, "config:import", "-y")
	return err
}

// ConfigDiff returns the configuration difference report.
func (c *CMS) ConfigDiff(ctx context.Context, siteID string) (string, error) {
	return c.exec(ctx, siteID, "config:status")
}

// DumpDatabase writes a gzipped database dump to path inside the site.
func (c *CMS) DumpDatabase(ctx context.Context, siteID, path string) error {
	_, err := c.exec(ctx, siteID, "sql:dump", "--gzip", "--result-file="+path)
	return err
}

// RestoreDatabase loads a dump file into the site database.
func (c *CMS) RestoreDatabase(ctx context.Context, siteID, path string) error {
	_, err := c.exec(ctx, siteID, "sql:query", "--file="+path)
	return err
}

// Query runs a raw data-layer query and returns its output.
func (c *CMS) Query(ctx context.Context, siteID, query string) (string, error) {
	return c.exec(ctx, siteID, "sql:query", query)
}

// ResetAdminPassword sets the administrative account credential.
func (c *CMS) ResetAdminPassword(ctx context.Context, siteID, password string) error {
	_, err := c.exec(ctx, siteID, "user:password", "admin", password)
	return err
}

// UserCount returns the number of user records, used as the representative
// entity count in remediation state snapshots.
func (c *CMS) UserCount(ctx context.Context, siteID string) (int, error) {
	out, err := c.Query(ctx, siteID, "SELECT COUNT(*) FROM users")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty user count result")
	}
	count, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return 0, fmt.Errorf("failed to parse user count from %q: %w", out, err)
	}
	return count, nil
}

// DBConnected reports whether the data layer answers a trivial query.
func (c *CMS) DBConnected(ctx context.Context, siteID string) bool {
	_, err := c.Query(ctx, siteID, "SELECT 1")
	return err == nil
}

// EnableModule enables a CMS module.
func (c *CMS) EnableModule(ctx context.Context, siteID, module string) error {
	_, err := c.exec(ctx, siteID, "pm:enable", "-y", module)
	return err
}

// DisableModule uninstalls a CMS module.
func (c *CMS) DisableModule(ctx context.Context, siteID, module string) error {
	_, err := c.exec(ctx, siteID, "pm:uninstall", "-y", module)
	return err
}
