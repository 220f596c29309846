package clients

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/livepeer/go-tools/drivers"
)

const MaxUploadDuration = 30 * time.Second

func DownloadOSURL(osURL string) (io.ReadCloser, error) {
	storageDriver, err := drivers.ParseOSURL(osURL, true)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OS URL %q: %s", osURL, err)
	}

	fileInfoReader, err := storageDriver.NewSession("").ReadData(context.Background(), "")
	if err != nil {
		return nil, fmt.Errorf("failed to read from OS URL %q: %s", osURL, err)
	}

	return fileInfoReader.Body, nil
}

// RemoteFileExists probes the destination for filename. Errors count as
// absent; worst case the caller uploads a file that was already there.
func RemoteFileExists(osURL, filename string) bool {
	storageDriver, err := drivers.ParseOSURL(osURL, true)
	if err != nil {
		return false
	}

	fileInfoReader, err := storageDriver.NewSession("").ReadData(context.Background(), filename)
	if err != nil {
		return false
	}
	fileInfoReader.Body.Close()
	return true
}

func UploadToOSURL(osURL, filename string, data io.Reader, timeout time.Duration) error {
	storageDriver, err := drivers.ParseOSURL(osURL, true)
	if err != nil {
		return fmt.Errorf("failed to parse OS URL %q: %s", osURL, err)
	}

	_, err = storageDriver.NewSession("").SaveData(context.Background(), filename, data, nil, timeout)
	if err != nil {
		return fmt.Errorf("failed to write file %q to OS URL %q: %s", filename, osURL, err)
	}

	return nil
}

// SaveTextFile writes a small text file (a merged manifest, usually) to
// the destination, retrying transient failures.
func SaveTextFile(osURL, filename, contents string) error {
	return backoff.Retry(func() error {
		return UploadToOSURL(osURL, filename, strings.NewReader(contents), MaxUploadDuration)
	}, UploadRetryBackoff())
}

func UploadRetryBackoff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(250*time.Millisecond), 2)
}
