/*Package csql wraps the postgres database of the query service.

The database holds one table per collection in a configurable schema. Each
table stores documents as

  id          uuid primary key
  properties  jsonb, the document without its id
*/
package csql

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/lib/pq" // load database driver for postgres

	"github.com/relabs-tech/resquery/core/logger"
)

// DB encapsulates a standard sql.DB with a schema
type DB struct {
	*sql.DB
	Schema string
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a
// row. In such a case, QueryRow returns a placeholder *Row value that
// defers this error until a Scan.
var ErrNoRows = sql.ErrNoRows

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Open opens a postgres database with a schema. The password is added to
// the data source name if not empty. The schema gets created if it does
// not exist yet.
func Open(ctx context.Context, dataSourceName, password, schema string) (*DB, error) {
	rlog := logger.FromContext(ctx)
	rlog.Infoln("connecting to postgres database:", dataSourceName)
	if password != "" {
		dataSourceName += " password=" + password
	}
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, err
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if len(schema) == 0 {
		schema = "public"
	} else {
		if !identifierPattern.MatchString(schema) {
			db.Close()
			return nil, fmt.Errorf("invalid schema name '%s'", schema)
		}
		rlog.Infoln("selected database schema:", schema)
		if _, err = db.ExecContext(ctx, `CREATE schema IF NOT EXISTS `+schema+`;`); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &DB{DB: db, Schema: schema}, nil
}

// OpenWithSchema is like Open but panics on errors
func OpenWithSchema(dataSourceName, password, schema string) *DB {
	db, err := Open(context.Background(), dataSourceName, password, schema)
	if err != nil {
		panic(err)
	}
	return db
}

// Table returns the qualified and quoted name of table in the schema of
// the database. Table names are restricted to identifiers.
func (db *DB) Table(table string) (string, error) {
	if !identifierPattern.MatchString(table) {
		return "", fmt.Errorf("invalid table name '%s'", table)
	}
	return db.Schema + `."` + table + `"`, nil
}

// CreateCollection creates the document table of collection if it does not
// exist yet
func (db *DB) CreateCollection(ctx context.Context, collection string) error {
	table, err := db.Table(collection)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+table+`
(id uuid NOT NULL,
properties jsonb NOT NULL DEFAULT '{}'::jsonb,
PRIMARY KEY(id)
);`)
	return err
}

// ClearSchema clears all the data contained in the database's schema
// Technically this is done by dropping the schema and then recreating it
func (db *DB) ClearSchema() {
	if strings.EqualFold(db.Schema, "public") {
		panic("refuse to drop public schema")
	}
	_, err := db.Exec(`DROP SCHEMA ` + db.Schema + ` CASCADE;
	CREATE schema IF NOT EXISTS ` + db.Schema + `;`)
	if err != nil {
		logger.Default().WithError(err).Errorln("clear schema error:", db.Schema)
	}
}
