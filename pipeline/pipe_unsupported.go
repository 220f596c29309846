//go:build !unix

package pipeline

import "fmt"

func createPipe(dir string) (string, error) {
	return "", fmt.Errorf("platform not supported: named pipes are unavailable")
}
