package acquire

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/rs/zerolog"

	"github.com/stagehand/stagehand/pkg/transports/ssh"
)

// ProductionSource extracts a dataset dump from the live production host.
type ProductionSource interface {
	// Reachable probes connectivity without establishing a full session.
	Reachable(ctx context.Context) bool
	// Fetch dumps the production database and downloads it to localPath.
	Fetch(ctx context.Context, siteID, localPath string) error
}

// SSHProductionSource dumps the production database over SSH and pulls the
// artifact down via SFTP. The remote dump is removed after download.
type SSHProductionSource struct {
	client     *ssh.Client
	config     *ssh.Config
	remotePath string
	cmsBinary  string
	logger     zerolog.Logger
}

// NewSSHProductionSource creates a production source for the given transport
// configuration. remotePath is the site root on the production host.
func NewSSHProductionSource(cfg *ssh.Config, remotePath, cmsBinary string, logger zerolog.Logger) (*SSHProductionSource, error) {
	client, err := ssh.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &SSHProductionSource{
		client:     client,
		config:     cfg,
		remotePath: remotePath,
		cmsBinary:  cmsBinary,
		logger:     logger.With().Str("component", "production-source").Logger(),
	}, nil
}

// Reachable probes the production SSH port with a short timeout. The probe
// is informational; a reachable port does not guarantee authentication will
// succeed.
func (s *SSHProductionSource) Reachable(ctx context.Context) bool {
	return ssh.Reachable(s.config.Host, s.config.Port, 5*time.Second)
}

// Fetch runs a gzipped database dump on the production host and downloads it
// to localPath. The remote artifact is deleted afterwards on a best-effort
// basis.
func (s *SSHProductionSource) Fetch(ctx context.Context, siteID, localPath string) error {
	start := time.Now()

	remoteDump := path.Join("/tmp", fmt.Sprintf("stagehand-%s-%d.sql.gz", siteID, start.Unix()))
	dumpCmd := fmt.Sprintf("cd %s && %s sql:dump --gzip --result-file=%s", s.remotePath, s.cmsBinary, remoteDump)

	if _, stderr, err := s.client.ExecuteCommand(ctx, dumpCmd); err != nil {
		return fmt.Errorf("production dump failed: %w (stderr: %s)", err, stderr)
	}
	defer func() {
		if _, _, err := s.client.ExecuteCommand(ctx, "rm -f "+remoteDump); err != nil {
			s.logger.Warn().Str("remote", remoteDump).Err(err).Msg("failed to remove remote dump")
		}
	}()

	if err := s.client.DownloadFile(ctx, remoteDump, localPath); err != nil {
		return fmt.Errorf("production dump download failed: %w", err)
	}

	s.logger.Info().
		Str("site", siteID).
		Str("local", localPath).
		Dur("duration", time.Since(start)).
		Msg("production dataset fetched")
	return nil
}

// Close releases the underlying SSH connection.
func (s *SSHProductionSource) Close() error {
	return s.client.Close()
}
