// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package postgres executes storage pipelines on a postgres database.

Every collection is a table with an uuid primary key "id" and a jsonb
column "properties". A pipeline is rendered into a single SQL query built
with squirrel: each stage wraps the query of the previous stage. Documents
flow through the query as jsonb values, sort keys are carried as extra
columns so that the final ordering survives the nesting.

Lookups are correlated subqueries aggregating the joined documents with
jsonb_agg. Comparisons apply to scalar values and to every element of
array values, like the in-memory executor does.
*/
package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/resquery/core/csql"
	"github.com/relabs-tech/resquery/core/logger"
	"github.com/relabs-tech/resquery/core/pipeline"
)

// Store is a postgres document store. It implements store.Executor.
type Store struct {
	db *csql.DB
	renderer
}

// New returns a store for db
func New(db *csql.DB) *Store {
	return &Store{db: db, renderer: renderer{table: db.Table}}
}

// CreateCollections creates the tables of collections if they do not exist
func (s *Store) CreateCollections(ctx context.Context, collections ...string) error {
	for _, collection := range collections {
		if err := s.db.CreateCollection(ctx, collection); err != nil {
			return fmt.Errorf("cannot create collection %s: %w", collection, err)
		}
	}
	return nil
}

// Insert inserts or replaces documents in collection. Documents need an
// "id" with an uuid, documents without id get a new one.
func (s *Store) Insert(ctx context.Context, collection string, docs ...pipeline.Document) error {
	table, err := s.db.Table(collection)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		id := uuid.New()
		if raw, ok := doc["id"]; ok {
			if id, err = uuid.Parse(fmt.Sprint(raw)); err != nil {
				return fmt.Errorf("invalid document id '%v': %w", raw, err)
			}
		}
		properties := doc.Clone()
		delete(properties, "id")
		body, err := json.Marshal(properties)
		if err != nil {
			return err
		}
		query, args, err := sq.Insert(table).
			Columns("id", "properties").
			Values(id, string(body)).
			Suffix("ON CONFLICT (id) DO UPDATE SET properties = EXCLUDED.properties").
			PlaceholderFormat(sq.Dollar).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("cannot insert into %s: %w", collection, err)
		}
	}
	return nil
}

// SQL returns the SQL query and its arguments for stages on collection
func (s *Store) SQL(collection string, stages []pipeline.Stage) (string, []interface{}, error) {
	query, err := s.render(collection, stages)
	if err != nil {
		return "", nil, err
	}
	return query.ToSql()
}

// Execute implements store.Executor
func (s *Store) Execute(ctx context.Context, collection string, stages []pipeline.Stage) ([]pipeline.Document, error) {
	rlog := logger.FromContext(ctx)
	query, args, err := s.SQL(collection, stages)
	if err != nil {
		return nil, err
	}
	rlog.Debugln("postgres store:", query)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cannot query %s: %w", collection, err)
	}
	defer rows.Close()

	docs := []pipeline.Document{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		doc := pipeline.Document{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("invalid document in %s: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
