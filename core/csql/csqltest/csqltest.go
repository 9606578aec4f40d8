/*Package csqltest starts a postgres database for integration tests.

Integration tests only run if the environment variable RESQUERY_INTEGRATION
is set. If POSTGRES is set as well, that database is used, otherwise a
postgres container is started with testcontainers.

  // use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
  // and POSTGRES_PASSWORD="docker"
*/
package csqltest

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relabs-tech/resquery/core/csql"
)

// EnvIntegration enables integration tests
const EnvIntegration = "RESQUERY_INTEGRATION"

// TestService holds the database configuration of integration tests
type TestService struct {
	Postgres         string `env:"POSTGRES,optional" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
}

// Skip skips t unless integration tests are enabled
func Skip(t testing.TB) {
	t.Helper()
	if os.Getenv(EnvIntegration) == "" {
		t.Skipf("integration test, set %s to run", EnvIntegration)
	}
}

// Start returns a database with a fresh schema. The schema is dropped and
// a started container is terminated when the test finishes.
func Start(t testing.TB) *csql.DB {
	t.Helper()
	Skip(t)

	var service TestService
	_ = envdecode.Decode(&service)

	dataSourceName, password := service.Postgres, service.PostgresPassword
	if dataSourceName == "" {
		dataSourceName, password = startContainer(t)
	}

	schema := "_test_" + uuid.NewString()[:8]
	db, err := csql.Open(context.Background(), dataSourceName, password, schema)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		db.Exec(`DROP SCHEMA ` + schema + ` CASCADE;`)
		db.Close()
	})
	return db
}

func startContainer(t testing.TB) (string, string) {
	ctx := context.Background()
	postgresUser := "testuser"
	postgresPassword := "testpass"
	postgresDB := "testdb"

	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     postgresUser,
				"POSTGRES_PASSWORD": postgresPassword,
				"POSTGRES_DB":       postgresDB,
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := pgC.Terminate(context.Background()); err != nil {
			t.Log("cannot terminate postgres container:", err)
		}
	})

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatal(err)
	}
	return fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
		host, port.Port(), postgresUser, postgresDB), postgresPassword
}
