//go:build unix

package pipeline

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// createPipe makes a uniquely named FIFO in dir, readable and writable
// by the owner only.
func createPipe(dir string) (string, error) {
	path := filepath.Join(dir, uuid.New().String())
	if err := unix.Mkfifo(path, 0600); err != nil {
		return "", fmt.Errorf("failed to create named pipe %q: %w", path, err)
	}
	return path, nil
}
