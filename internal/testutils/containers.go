// Package testutils provides container helpers for integration tests against
// real storage backends.
package testutils

import (
	"runtime"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/greyhorse-org/greyhorse/pkg/broker/rmq"
	"github.com/greyhorse-org/greyhorse/pkg/storage/clickhouse"
	"github.com/greyhorse-org/greyhorse/pkg/storage/elasticsearch"
	"github.com/greyhorse-org/greyhorse/pkg/storage/mysql"
	"github.com/greyhorse-org/greyhorse/pkg/storage/postgres"
	"github.com/greyhorse-org/greyhorse/pkg/storage/redis"
)

// startContainer starts a container for the given request and returns its host
// and the mapped port. The container is terminated when the test finishes.
func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) (string, int) {
	t.Helper()

	if runtime.GOOS != "linux" {
		t.Skip("Skipping container test on non-Linux OS")
	}

	ctx := t.Context()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Setup: failed to start container %s", req.Image)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("Teardown: failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err, "Setup: failed to get container host")
	mapped, err := container.MappedPort(ctx, nat.Port(port+"/tcp"))
	require.NoError(t, err, "Setup: failed to get mapped port")

	return host, mapped.Int()
}

// StartPostgres starts a PostgreSQL container and returns a ready to use
// engine configuration.
func StartPostgres(t *testing.T) postgres.Config {
	t.Helper()

	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}, "5432")

	return postgres.Config{
		Host: host, Port: port,
		User: "postgres", Password: "postgres",
		Database: "testdb", SSLMode: "disable",
	}
}

// StartMariaDB starts a MariaDB container and returns a ready to use engine
// configuration.
func StartMariaDB(t *testing.T) mysql.Config {
	t.Helper()

	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        "mariadb:11",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MARIADB_ROOT_PASSWORD": "root",
			"MARIADB_DATABASE":      "testdb",
		},
		WaitingFor: wait.ForListeningPort("3306/tcp"),
	}, "3306")

	return mysql.Config{
		Host: host, Port: port,
		User: "root", Password: "root",
		Database: "testdb",
	}
}

// StartClickHouse starts a ClickHouse container and returns a ready to use
// engine configuration.
func StartClickHouse(t *testing.T) clickhouse.Config {
	t.Helper()

	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        "clickhouse/clickhouse-server:24.8",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"CLICKHOUSE_DB":       "testdb",
			"CLICKHOUSE_USER":     "default",
			"CLICKHOUSE_PASSWORD": "clickhouse",
		},
		WaitingFor: wait.ForListeningPort("9000/tcp"),
	}, "9000")

	return clickhouse.Config{
		Host: host, Port: port,
		User: "default", Password: "clickhouse",
		Database: "testdb",
	}
}

// StartElasticsearch starts an Elasticsearch container and returns a ready to
// use engine configuration.
func StartElasticsearch(t *testing.T) elasticsearch.Config {
	t.Helper()

	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        "docker.elastic.co/elasticsearch/elasticsearch:7.17.28",
		ExposedPorts: []string{"9200/tcp"},
		Env: map[string]string{
			"discovery.type":         "single-node",
			"ES_JAVA_OPTS":           "-Xms512m -Xmx512m",
			"xpack.security.enabled": "false",
		},
		WaitingFor: wait.ForHTTP("/_cluster/health").WithPort("9200/tcp").WithStartupTimeout(2 * time.Minute),
	}, "9200")

	return elasticsearch.Config{Host: host, Port: port}
}

// StartRedis starts a Redis container and returns a ready to use engine
// configuration.
func StartRedis(t *testing.T) redis.Config {
	t.Helper()

	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	}, "6379")

	return redis.Config{Host: host, Port: port}
}

// StartRabbitMQ starts a RabbitMQ container and returns a ready to use engine
// configuration.
func StartRabbitMQ(t *testing.T) rmq.Config {
	t.Helper()

	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        "rabbitmq:3",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForListeningPort("5672/tcp"),
	}, "5672")

	return rmq.Config{
		Host: host, Port: port,
		User: "guest", Password: "guest",
	}
}
