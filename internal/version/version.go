package version

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Version is stamped at build time with
// -ldflags "-X kaiden.app/licensing/internal/version.Version=1.2.3".
var Version = "dev"

// Resolve prefers a VERSION file at path over the build stamp. A missing
// file is not an error.
func Resolve(path string) (string, error) {
	if path == "" {
		return Version, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Version, nil
		}
		return Version, fmt.Errorf("read version file: %w", err)
	}

	v := strings.TrimSpace(string(data))
	if v == "" {
		return Version, nil
	}
	return v, nil
}
