// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package store provides executors for storage pipelines.

An Executor runs a list of pipeline stages against one collection and
returns the resulting documents. Memory is an in-process executor used for
tests and small deployments, package postgres executes pipelines as SQL.
*/
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/relabs-tech/resquery/core/logger"
	"github.com/relabs-tech/resquery/core/pipeline"
)

// Executor executes a pipeline against a collection
type Executor interface {
	Execute(ctx context.Context, collection string, stages []pipeline.Stage) ([]pipeline.Document, error)
}

// UnsupportedStageError is returned by executors for stages they cannot run
type UnsupportedStageError struct {
	Stage pipeline.Stage
}

func (e *UnsupportedStageError) Error() string {
	return fmt.Sprintf("unsupported stage %T", e.Stage)
}

// Memory is an in-memory document store. This type is go-routine safe.
type Memory struct {
	mutex       sync.RWMutex
	collections map[string][]pipeline.Document
}

// NewMemory creates a new, empty in-memory store
func NewMemory() *Memory {
	return &Memory{collections: make(map[string][]pipeline.Document)}
}

// Insert appends documents to collection. The documents must not be
// modified afterwards.
func (m *Memory) Insert(collection string, docs ...pipeline.Document) {
	m.mutex.Lock()
	m.collections[collection] = append(m.collections[collection], docs...)
	m.mutex.Unlock()
}

// Collection returns shallow copies of all documents of collection
func (m *Memory) Collection(collection string) []pipeline.Document {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return cloneAll(m.collections[collection])
}

// Execute implements Executor. Stored documents are never modified.
func (m *Memory) Execute(ctx context.Context, collection string, stages []pipeline.Stage) ([]pipeline.Document, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	docs := cloneAll(m.collections[collection])
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		docs, err = m.apply(stage, docs)
		if err != nil {
			return nil, err
		}
	}
	logger.FromContext(ctx).Debugf("memory store: %d stages on %s returned %d documents", len(stages), collection, len(docs))
	return docs, nil
}

func (m *Memory) apply(stage pipeline.Stage, docs []pipeline.Document) ([]pipeline.Document, error) {
	switch s := stage.(type) {
	case pipeline.Match:
		result := docs[:0]
		for _, doc := range docs {
			if s.Expr.Match(doc) {
				result = append(result, doc)
			}
		}
		return result, nil

	case pipeline.Lookup:
		foreign := m.collections[s.From]
		for _, doc := range docs {
			local, ok := doc.Get(s.LocalField)
			joined := []interface{}{}
			if ok && local != nil {
				for _, candidate := range foreign {
					value, _ := candidate.Get(s.ForeignField)
					if !pipeline.Equal(value, local) {
						continue
					}
					if s.Where != nil && !s.Where.Match(candidate) {
						continue
					}
					joined = append(joined, candidate.Clone())
				}
			}
			doc.Set(s.As, joined)
		}
		return docs, nil

	case pipeline.AddFields:
		for _, doc := range docs {
			values := make([]interface{}, len(s.Fields))
			for i, f := range s.Fields {
				values[i] = f.Value.Compute(doc)
			}
			for i, f := range s.Fields {
				doc.Set(f.Name, values[i])
			}
		}
		return docs, nil

	case pipeline.Sort:
		sort.SliceStable(docs, func(i, j int) bool {
			a, _ := docs[i].Get(s.Path)
			b, _ := docs[j].Get(s.Path)
			return pipeline.Order(a, b)*int(s.Direction) < 0
		})
		return docs, nil

	case pipeline.Unset:
		for _, doc := range docs {
			for _, path := range s.Paths {
				doc.Unset(path)
			}
		}
		return docs, nil

	case pipeline.Skip:
		if s.N >= len(docs) {
			return []pipeline.Document{}, nil
		}
		if s.N > 0 {
			return docs[s.N:], nil
		}
		return docs, nil

	case pipeline.Limit:
		if s.N >= 0 && s.N < len(docs) {
			return docs[:s.N], nil
		}
		return docs, nil
	}
	return nil, &UnsupportedStageError{Stage: stage}
}

func cloneAll(docs []pipeline.Document) []pipeline.Document {
	result := make([]pipeline.Document, len(docs))
	for i, doc := range docs {
		result[i] = doc.Clone()
	}
	return result
}
