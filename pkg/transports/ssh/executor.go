package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// ExecuteCommand runs a command on the remote host and returns its trimmed
// stdout and stderr. A non-zero remote exit status is returned as an error
// wrapping the exit code.
func (c *Client) ExecuteCommand(ctx context.Context, cmd string) (stdout string, stderr string, err error) {
	client, err := c.conn(ctx)
	if err != nil {
		return "", "", err
	}

	session, err := client.NewSession()
	if err != nil {
		return "", "", &TransportError{
			Op:          "execute",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	startTime := time.Now()

	if c.config.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.CommandTimeout)
		defer cancel()
	}

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(cmd)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		execErr = ctx.Err()
	case execErr = <-doneChan:
	}

	stdout = strings.TrimSpace(stdoutBuf.String())
	stderr = strings.TrimSpace(stderrBuf.String())

	log.Debug().
		Str("command", cmd).
		Int("stdout_len", len(stdout)).
		Int("stderr_len", len(stderr)).
		Dur("duration", time.Since(startTime)).
		Msg("remote command finished")

	if execErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(execErr, &exitErr) {
			return stdout, stderr, &TransportError{
				Op:  "execute",
				Err: fmt.Errorf("remote command exited %d: %s", exitErr.ExitStatus(), firstLine(stderr)),
			}
		}
		return stdout, stderr, &TransportError{
			Op:          "execute",
			Err:         execErr,
			IsTemporary: true,
		}
	}

	return stdout, stderr, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
