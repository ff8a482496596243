package integration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/caregap/internal/platform/db"
)

const (
	// testDatabaseEnv points the suite at an existing database instead of a
	// throwaway container.
	testDatabaseEnv = "CAREGAP_TEST_DATABASE_URL"
	testImageEnv    = "CAREGAP_TEST_POSTGRES_IMAGE"
	defaultImage    = "postgres:16-alpine"
	readyTimeout    = 30 * time.Second
)

// externalDatabase reports the database given through testDatabaseEnv.
func externalDatabase() (string, bool) {
	url := strings.TrimSpace(os.Getenv(testDatabaseEnv))
	return url, url != ""
}

// startSubmissionLogDB starts a disposable Postgres for the submission log
// and returns its url with a function that removes the container. Docker
// picks the host port.
func startSubmissionLogDB(ctx context.Context) (string, func(), error) {
	image := os.Getenv(testImageEnv)
	if image == "" {
		image = defaultImage
	}

	out, err := exec.CommandContext(ctx, "docker", "run", "-d", "--rm",
		"--label", "caregap-integration=1",
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_USER=caregap",
		"-e", "POSTGRES_PASSWORD=caregap",
		"-e", "POSTGRES_DB=caregap_test",
		image,
	).CombinedOutput()
	if err != nil {
		return "", nil, fmt.Errorf("docker run %s: %w: %s", image, err, out)
	}
	id := strings.TrimSpace(string(out))
	remove := func() { exec.Command("docker", "rm", "-f", id).Run() }

	out, err = exec.CommandContext(ctx, "docker", "port", id, "5432/tcp").Output()
	if err != nil {
		remove()
		return "", nil, fmt.Errorf("docker port: %w", err)
	}
	// "127.0.0.1:49153", possibly followed by an IPv6 binding.
	hostPort := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])

	url := fmt.Sprintf("postgres://caregap:caregap@%s/caregap_test?sslmode=disable", hostPort)
	return url, remove, nil
}

// connectWhenReady opens the pool once Postgres accepts connections.
func connectWhenReady(ctx context.Context, url string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		attempt, stop := context.WithTimeout(ctx, 2*time.Second)
		pool, err := db.NewPool(attempt, db.PoolConfig{URL: url, MaxConns: 5})
		stop()
		if err == nil {
			return pool, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("postgres not ready after %v: %w", readyTimeout, err)
		case <-ticker.C:
		}
	}
}
