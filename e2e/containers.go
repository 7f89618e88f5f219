package e2e

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/glizzus/opusify/internal/config"
	"github.com/glizzus/opusify/internal/datalayer"
)

// shared is a container started at most once and terminated after every
// test using it has finished.
type shared[T any] struct {
	once     sync.Once
	value    T
	startErr error
	wg       sync.WaitGroup
	stop     func(context.Context) error
}

func (s *shared[T]) use(t *testing.T, start func(ctx context.Context) (T, func(context.Context) error, error)) T {
	t.Helper()
	s.once.Do(func() {
		s.value, s.stop, s.startErr = start(context.Background())
	})
	if s.startErr != nil {
		t.Fatalf("failed to start container: %v", s.startErr)
	}
	s.wg.Add(1)
	t.Cleanup(s.wg.Done)
	return s.value
}

func (s *shared[T]) terminate(name string) {
	s.wg.Wait()
	if s.stop == nil {
		return
	}
	if err := s.stop(context.Background()); err != nil {
		fmt.Printf("failed to terminate %s container: %v\n", name, err)
	}
}

var (
	postgresContainer shared[string]
	redisContainer    shared[string]
	minioContainer    shared[config.MinioConfig]
)

// UsePostgres signals that the test is using Postgres as its database.
// This will either provision or reuse a Postgres container for the test.
// Do not expect a clean state in the database; it is shared across tests
// to simulate real-world usage.
func UsePostgres(t *testing.T) string {
	t.Helper()
	return postgresContainer.use(t, func(ctx context.Context) (string, func(context.Context) error, error) {
		c, err := postgres.Run(
			ctx,
			"postgres",
			postgres.WithDatabase("opusify"),
			postgres.WithUsername("user"),
			postgres.WithPassword("password"),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			return "", nil, err
		}
		stop := func(ctx context.Context) error { return c.Terminate(ctx) }

		connStr, err := c.ConnectionString(ctx)
		if err != nil {
			return "", stop, err
		}
		pool, err := pgxpool.New(ctx, connStr)
		if err != nil {
			return "", stop, err
		}
		defer pool.Close()
		return connStr, stop, datalayer.MigratePostgres(pool)
	})
}

// UseRedis returns the URL of a shared Redis container.
func UseRedis(t *testing.T) string {
	t.Helper()
	return redisContainer.use(t, func(ctx context.Context) (string, func(context.Context) error, error) {
		c, err := tcredis.Run(ctx, "redis:7")
		if err != nil {
			return "", nil, err
		}
		stop := func(ctx context.Context) error { return c.Terminate(ctx) }
		uri, err := c.ConnectionString(ctx)
		return uri, stop, err
	})
}

// UseMinio returns the settings of a shared MinIO container. Buckets are
// shared too; use a distinct key prefix per test.
func UseMinio(t *testing.T) config.MinioConfig {
	t.Helper()
	return minioContainer.use(t, func(ctx context.Context) (config.MinioConfig, func(context.Context) error, error) {
		cfg := config.MinioConfig{Username: "minioadmin", Password: "minioadmin", Bucket: "opusify"}
		c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "minio/minio",
				Cmd:          []string{"server", "/data"},
				ExposedPorts: []string{"9000/tcp"},
				Env: map[string]string{
					"MINIO_ROOT_USER":     cfg.Username,
					"MINIO_ROOT_PASSWORD": cfg.Password,
				},
				WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
			},
			Started: true,
		})
		if err != nil {
			return cfg, nil, err
		}
		stop := func(ctx context.Context) error { return c.Terminate(ctx) }
		cfg.Endpoint, err = c.PortEndpoint(ctx, "9000/tcp", "")
		return cfg, stop, err
	})
}

// GetPool connects to the database at connStr for the duration of the test.
func GetPool(t *testing.T, connStr string) *pgxpool.Pool {
	t.Helper()
	pool, err := pgxpool.New(t.Context(), connStr)
	if err != nil {
		t.Fatalf("failed to create postgres pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// GetRedis connects to the Redis server at uri for the duration of the test.
func GetRedis(t *testing.T, uri string) *redis.Client {
	t.Helper()
	opts, err := redis.ParseURL(uri)
	if err != nil {
		t.Fatalf("failed to parse redis url: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TerminateContainersForE2E() {
	postgresContainer.terminate("postgres")
	redisContainer.terminate("redis")
	minioContainer.terminate("minio")
}
