// Package memory persists run reflections in a chromem-go vector collection
// so later runs can retrieve relevant experience by similarity.
package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"orchid/internal/logging"
)

const collectionName = "reflections"

// Store implements ports.ReflectionStore over chromem-go.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     logging.Logger
}

// Options configures the store.
type Options struct {
	// PersistPath is the directory holding the collection; empty keeps the
	// store in memory only.
	PersistPath string
	// Embedding overrides the embedding function; nil selects the built-in
	// lexical embedder, which needs no external service.
	Embedding chromem.EmbeddingFunc
}

// New opens (or creates) the reflection store.
func New(opts Options, logger logging.Logger) (*Store, error) {
	var db *chromem.DB
	var err error
	if opts.PersistPath != "" {
		if err = os.MkdirAll(opts.PersistPath, 0o755); err != nil {
			return nil, fmt.Errorf("create reflection store dir: %w", err)
		}
		db, err = chromem.NewPersistentDB(filepath.Join(opts.PersistPath, "reflections.gob"), false)
		if err != nil {
			return nil, fmt.Errorf("open reflection store: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	embedding := opts.Embedding
	if embedding == nil {
		embedding = lexicalEmbedding
	}

	collection, err := db.GetOrCreateCollection(collectionName, nil, embedding)
	if err != nil {
		return nil, fmt.Errorf("open reflection collection: %w", err)
	}

	return &Store{
		db:         db,
		collection: collection,
		logger:     logging.OrNop(logger),
	}, nil
}

// StoreReflection saves one run reflection.
func (s *Store) StoreReflection(ctx context.Context, runID, agentID, task, reflection string) error {
	if reflection == "" {
		return nil
	}
	err := s.collection.AddDocument(ctx, chromem.Document{
		ID:      uuid.NewString(),
		Content: fmt.Sprintf("task: %s\nreflection: %s", task, reflection),
		Metadata: map[string]string{
			"run_id":   runID,
			"agent_id": agentID,
			"stored":   time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("store reflection for run %s: %w", runID, err)
	}
	s.logger.Debug("stored reflection for run %s (agent %s)", runID, agentID)
	return nil
}

// SearchReflections returns up to limit reflections relevant to query,
// most similar first.
func (s *Store) SearchReflections(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	// chromem rejects queries asking for more results than stored documents.
	if count := s.collection.Count(); count == 0 {
		return nil, nil
	} else if limit > count {
		limit = count
	}

	results, err := s.collection.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query reflections: %w", err)
	}

	out := make([]string, 0, len(results))
	for _, result := range results {
		out = append(out, result.Content)
	}
	return out, nil
}

// Count reports how many reflections are stored.
func (s *Store) Count() int {
	return s.collection.Count()
}
