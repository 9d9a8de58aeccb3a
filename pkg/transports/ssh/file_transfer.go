package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
)

// Filter selects files during bulk transfer by glob patterns matched against
// the path relative to the transfer root. Exclude wins over include. An
// empty include list means include everything.
type Filter struct {
	Include []string
	Exclude []string
}

// Match reports whether a relative path passes the filter.
func (f Filter) Match(relPath string) bool {
	for _, pattern := range f.Exclude {
		if matched, _ := path.Match(pattern, relPath); matched {
			return false
		}
		if matched, _ := path.Match(pattern, path.Base(relPath)); matched {
			return false
		}
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, pattern := range f.Include {
		if matched, _ := path.Match(pattern, relPath); matched {
			return true
		}
		if matched, _ := path.Match(pattern, path.Base(relPath)); matched {
			return true
		}
	}
	return false
}

// TransferStats summarizes a bulk transfer.
type TransferStats struct {
	Files    int
	Bytes    int64
	Duration time.Duration
}

func (c *Client) sftpClient(ctx context.Context) (*sftp.Client, error) {
	client, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}

	sc, err := sftp.NewClient(client)
	if err != nil {
		return nil, &TransportError{
			Op:          "sftp",
			Err:         fmt.Errorf("failed to create sftp client: %w", err),
			IsTemporary: true,
		}
	}
	return sc, nil
}

// DownloadFile downloads a single remote file to localPath.
func (c *Client) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	sc, err := c.sftpClient(ctx)
	if err != nil {
		return err
	}
	defer sc.Close()

	src, err := sc.Open(remotePath)
	if err != nil {
		return &TransportError{
			Op:  "download",
			Err: fmt.Errorf("failed to open remote file %s: %w", remotePath, err),
		}
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return &TransportError{Op: "download", Err: err}
	}

	dst, err := os.Create(localPath)
	if err != nil {
		return &TransportError{Op: "download", Err: err}
	}
	defer dst.Close()

	written, err := io.Copy(dst, src)
	if err != nil {
		// Leave no partial artifact behind.
		_ = os.Remove(localPath)
		return &TransportError{
			Op:          "download",
			Err:         fmt.Errorf("failed to copy %s: %w", remotePath, err),
			IsTemporary: true,
		}
	}

	log.Debug().
		Str("remote", remotePath).
		Str("local", localPath).
		Int64("bytes", written).
		Msg("file downloaded")
	return nil
}

// DownloadDirectory recursively downloads a remote directory, applying the
// filter to each file's path relative to remoteDir.
func (c *Client) DownloadDirectory(ctx context.Context, remoteDir, localDir string, filter Filter) (TransferStats, error) {
	sc, err := c.sftpClient(ctx)
	if err != nil {
		return TransferStats{}, err
	}
	defer sc.Close()

	start := time.Now()
	stats := TransferStats{}

	walker := sc.Walk(remoteDir)
	for walker.Step() {
		if err := ctx.Err(); err != nil {
			return stats, &TransportError{Op: "download-dir", Err: err, IsTemporary: true}
		}
		if err := walker.Err(); err != nil {
			return stats, &TransportError{Op: "download-dir", Err: err}
		}
		if walker.Stat().IsDir() {
			continue
		}

		rel, err := filepath.Rel(remoteDir, walker.Path())
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)
		if !filter.Match(rel) {
			continue
		}

		localPath := filepath.Join(localDir, filepath.FromSlash(rel))
		if err := c.downloadVia(sc, walker.Path(), localPath); err != nil {
			return stats, err
		}
		stats.Files++
		stats.Bytes += walker.Stat().Size()
	}

	stats.Duration = time.Since(start)
	log.Debug().
		Str("remote", remoteDir).
		Int("files", stats.Files).
		Int64("bytes", stats.Bytes).
		Dur("duration", stats.Duration).
		Msg("directory downloaded")
	return stats, nil
}

func (c *Client) downloadVia(sc *sftp.Client, remotePath, localPath string) error {
	src, err := sc.Open(remotePath)
	if err != nil {
		return &TransportError{Op: "download", Err: err}
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return &TransportError{Op: "download", Err: err}
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return &TransportError{Op: "download", Err: err}
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(localPath)
		return &TransportError{Op: "download", Err: err, IsTemporary: true}
	}
	return nil
}

// RemoteFileExists reports whether a remote path exists.
func (c *Client) RemoteFileExists(ctx context.Context, remotePath string) (bool, error) {
	sc, err := c.sftpClient(ctx)
	if err != nil {
		return false, err
	}
	defer sc.Close()

	_, err = sc.Stat(remotePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &TransportError{Op: "stat", Err: err}
	}
	return true, nil
}
