package cmdutil

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/unbrowse-ai/unbrowse-core/internal/lock"
)

// EnsureServer makes sure a control service is reachable at baseURL,
// spawning one as a detached child when the instance lock on baseDir is
// free, per SPEC_FULL.md §4.17. It returns once /health responds or the
// spawned process fails to come up within the wait window.
func EnsureServer(ctx context.Context, baseDir, baseURL string) error {
	client := NewClient(baseURL)
	if err := client.Health(ctx); err == nil {
		return nil
	}

	fl, acquired, err := lock.TryAcquire(baseDir)
	if err != nil {
		return fmt.Errorf("checking control service lock: %w", err)
	}
	if !acquired {
		return waitForHealth(ctx, client, 10*time.Second)
	}
	// Nobody else holds the lock: spawn the server and let it take the
	// lock itself. Release ours first so it isn't held by this process.
	if err := fl.Unlock(); err != nil {
		return fmt.Errorf("releasing probe lock: %w", err)
	}

	bin, err := serverBinaryPath()
	if err != nil {
		return err
	}
	cmd := exec.Command(bin)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawning control service: %w", err)
	}
	_ = cmd.Process.Release()

	return waitForHealth(ctx, client, 15*time.Second)
}

func waitForHealth(ctx context.Context, client *Client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := client.Health(ctx); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("control service did not become healthy within %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// serverBinaryPath finds the unbrowsed binary next to the running
// executable, falling back to $PATH.
func serverBinaryPath() (string, error) {
	self, err := os.Executable()
	if err == nil {
		sibling := filepath.Join(filepath.Dir(self), "unbrowsed")
		if info, statErr := os.Stat(sibling); statErr == nil && !info.IsDir() {
			return sibling, nil
		}
	}
	return exec.LookPath("unbrowsed")
}
