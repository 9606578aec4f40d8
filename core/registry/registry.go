/*Package registry provides a persistent registry of objects in a SQL database

The package uses JSON to serialize the data. Fields is an accessor for the
field definitions of resources and serves as field store of the query
engine.
*/
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/resquery/core/csql"
	"github.com/relabs-tech/resquery/core/fields"
)

// New creates a new registry for the specified database
func New(ctx context.Context, db *csql.DB) (*Registry, error) {
	_, err := db.ExecContext(ctx, `CREATE table IF NOT EXISTS `+db.Schema+`."_registry_"
(key varchar NOT NULL,
value json NOT NULL,
timestamp timestamp NOT NULL,
PRIMARY KEY(key)
);`)
	if err != nil {
		return nil, fmt.Errorf("cannot create registry: %w", err)
	}
	return &Registry{db: db}, nil
}

// MustNew is like New but panics on errors
func MustNew(db *csql.DB) *Registry {
	r, err := New(context.Background(), db)
	if err != nil {
		panic(err)
	}
	return r
}

// Registry provides a persistent registry of objects in a sql database.
type Registry struct {
	db *csql.DB
}

// Accessor is an accessor with optional prefix
type Accessor struct {
	Prefix   string
	Registry *Registry
}

// Accessor returns a registry accessor with prefix
func (r *Registry) Accessor(prefix string) Accessor {
	return Accessor{
		Prefix:   prefix,
		Registry: r,
	}
}

func (r Accessor) key(key string) string {
	if len(r.Prefix) > 0 {
		return r.Prefix + ":" + key
	}
	return key
}

// Read reads a value from the registry. It returns the
// time when the value was written, or a zero timestamp
// if there is no value.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Read(ctx context.Context, key string, value interface{}) (time.Time, error) {
	var (
		rawValue  json.RawMessage
		timestamp time.Time
	)
	key = r.key(key)

	err := r.Registry.db.QueryRowContext(ctx,
		`SELECT value, timestamp FROM `+r.Registry.db.Schema+`."_registry_" WHERE key=$1;`,
		key).Scan(&rawValue, &timestamp)
	if err == csql.ErrNoRows {
		return timestamp, nil
	}
	if err != nil {
		return timestamp, fmt.Errorf("cannot read key '%s': %w", key, err)
	}
	err = json.Unmarshal(rawValue, value)

	return timestamp, err
}

// List returns the raw values of all keys of the accessor, without prefix
func (r Accessor) List(ctx context.Context) (map[string]json.RawMessage, error) {
	pattern := "%"
	if len(r.Prefix) > 0 {
		pattern = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(r.Prefix) + ":%"
	}
	rows, err := r.Registry.db.QueryContext(ctx,
		`SELECT key, value FROM `+r.Registry.db.Schema+`."_registry_" WHERE key LIKE $1;`,
		pattern)
	if err != nil {
		return nil, fmt.Errorf("cannot list keys: %w", err)
	}
	defer rows.Close()

	result := make(map[string]json.RawMessage)
	for rows.Next() {
		var (
			key      string
			rawValue json.RawMessage
		)
		if err := rows.Scan(&key, &rawValue); err != nil {
			return nil, err
		}
		if len(r.Prefix) > 0 {
			key = strings.TrimPrefix(key, r.Prefix+":")
		}
		result[key] = rawValue
	}
	return result, rows.Err()
}

// Write writes a value into the registry.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Write(ctx context.Context, key string, value interface{}) error {

	body, err := json.Marshal(value)
	if err != nil {
		return err
	}
	key = r.key(key)
	now := time.Now().UTC()
	res, err := r.Registry.db.ExecContext(ctx,
		`INSERT INTO `+r.Registry.db.Schema+`."_registry_"(key,value,timestamp)
VALUES($1,$2,$3)
ON CONFLICT (key) DO UPDATE SET value=$2,timestamp=$3;`,
		key, string(body), now)

	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("could not write key %s", key)
	}
	return nil

}

// Delete deletes a value from the registry.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Delete(ctx context.Context, key string) error {
	_, err := r.Registry.db.ExecContext(ctx,
		`DELETE FROM `+r.Registry.db.Schema+`."_registry_" WHERE key=$1;`,
		r.key(key))
	return err
}

// FieldsPrefix is the key prefix of field definitions
const FieldsPrefix = "fields"

// Fields stores the field definitions of resources
type Fields struct {
	accessor Accessor
}

// Fields returns the field definition store of the registry
func (r *Registry) Fields() *Fields {
	return &Fields{accessor: r.Accessor(FieldsPrefix)}
}

// LoadFields returns the stored field definitions of all resources
func (f *Fields) LoadFields(ctx context.Context) (map[string][]fields.Descriptor, error) {
	raw, err := f.accessor.List(ctx)
	if err != nil {
		return nil, err
	}
	result := make(map[string][]fields.Descriptor, len(raw))
	for resource, value := range raw {
		var descriptors []fields.Descriptor
		if err := json.Unmarshal(value, &descriptors); err != nil {
			return nil, fmt.Errorf("invalid field definitions of %s: %w", resource, err)
		}
		result[resource] = descriptors
	}
	return result, nil
}

// SaveFields stores the field definitions of resource
func (f *Fields) SaveFields(ctx context.Context, resource string, descriptors []fields.Descriptor) error {
	return f.accessor.Write(ctx, resource, descriptors)
}

// DeleteFields removes the stored field definitions of resource
func (f *Fields) DeleteFields(ctx context.Context, resource string) error {
	return f.accessor.Delete(ctx, resource)
}
