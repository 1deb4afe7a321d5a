package testing

import (
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

// RequireDocker skips t in -short runs and when no container runtime is
// reachable, so integration suites degrade to a skip on laptops without Docker.
func RequireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("container-backed test skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
}
