package acquire

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stagehand/stagehand/pkg/runtime"
)

// SanitizeOp is one irreversible destructive operation in the pipeline.
type SanitizeOp struct {
	Name string
	Run  func(ctx context.Context, siteID string) error
}

// Pipeline runs the ordered sanitization sequence against a site's dataset.
// Order matters: the credential reset and PII rewrite run before the final
// derived-cache rebuild so stale sensitive values cannot re-surface into
// caches.
type Pipeline struct {
	cms    *runtime.CMS
	logger zerolog.Logger

	// adminPassword is the known administrative credential set during
	// sanitization.
	adminPassword string
}

// NewPipeline creates a sanitization pipeline over the CMS administrator.
func NewPipeline(cms *runtime.CMS, adminPassword string, logger zerolog.Logger) *Pipeline {
	if adminPassword == "" {
		adminPassword = "stagehand-local"
	}
	return &Pipeline{
		cms:           cms,
		logger:        logger.With().Str("component", "sanitize").Logger(),
		adminPassword: adminPassword,
	}
}

// cacheTables and volatileTables are the well-known table sets cleared
// during sanitization.
var (
	cacheTables    = []string{"cache_bootstrap", "cache_config", "cache_data", "cache_default", "cache_render", "cache_page"}
	volatileTables = []string{"sessions", "watchdog", "queue", "batch"}
)

// Ops returns the ordered operation list. The final op must remain the
// derived-cache rebuild.
func (p *Pipeline) Ops() []SanitizeOp {
	return []SanitizeOp{
		{Name: "clear_cache_tables", Run: p.clearCacheTables},
		{Name: "clear_session_and_log_tables", Run: p.clearVolatileTables},
		{Name: "anonymize_user_contacts", Run: p.anonymizeUserContacts},
		{Name: "reset_admin_credential", Run: p.resetAdminCredential},
		{Name: "strip_sensitive_config", Run: p.stripSensitiveConfig},
		{Name: "rebuild_derived_caches", Run: p.rebuildDerivedCaches},
	}
}

// Run executes the pipeline in order, failing fast. There is no undo; a
// failed run leaves the dataset partially sanitized and the caller must not
// treat it as sanitized.
func (p *Pipeline) Run(ctx context.Context, siteID string) error {
	start := time.Now()

	for _, op := range p.Ops() {
		opStart := time.Now()
		if err := op.Run(ctx, siteID); err != nil {
			return fmt.Errorf("sanitization step %s failed: %w", op.Name, err)
		}
		p.logger.Debug().
			Str("site", siteID).
			Str("op", op.Name).
			Dur("duration", time.Since(opStart)).
			Msg("sanitization step done")
	}

	p.logger.Info().
		Str("site", siteID).
		Dur("duration", time.Since(start)).
		Msg("dataset sanitized")
	return nil
}

func (p *Pipeline) clearCacheTables(ctx context.Context, siteID string) error {
	for _, table := range cacheTables {
		// Cache tables are optional per site; a missing table is not a failure.
		if _, err := p.cms.Query(ctx, siteID, "TRUNCATE TABLE "+table); err != nil {
			p.logger.Debug().Str("table", table).Err(err).Msg("cache table not cleared")
		}
	}
	return nil
}

func (p *Pipeline) clearVolatileTables(ctx context.Context, siteID string) error {
	for _, table := range volatileTables {
		if _, err := p.cms.Query(ctx, siteID, "TRUNCATE TABLE "+table); err != nil {
			p.logger.Debug().Str("table", table).Err(err).Msg("volatile table not cleared")
		}
	}
	return nil
}

// anonymizeUserContacts rewrites user contact fields to a deterministic
// non-identifying pattern keyed by the internal id. The anonymous admin
// (uid 0) is left alone.
func (p *Pipeline) anonymizeUserContacts(ctx context.Context, siteID string) error {
	query := "UPDATE users_field_data SET " +
		"mail = CONCAT('user-', uid, '@example.invalid'), " +
		"init = CONCAT('user-', uid, '@example.invalid') " +
		"WHERE uid > 0"
	if _, err := p.cms.Query(ctx, siteID, query); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) resetAdminCredential(ctx context.Context, siteID string) error {
	return p.cms.ResetAdminPassword(ctx, siteID, p.adminPassword)
}

func (p *Pipeline) stripSensitiveConfig(ctx context.Context, siteID string) error {
	queries := []string{
		"DELETE FROM key_value WHERE collection = 'state' AND name LIKE '%api_key%'",
		"DELETE FROM key_value WHERE collection = 'state' AND name LIKE '%secret%'",
	}
	for _, query := range queries {
		if _, err := p.cms.Query(ctx, siteID, query); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) rebuildDerivedCaches(ctx context.Context, siteID string) error {
	return p.cms.CacheRebuild(ctx, siteID)
}
