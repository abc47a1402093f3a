package graphrag

import (
	"context"
	"embed"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/buildforge/buildforge/internal/errors"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store persists Graph RAG build artifacts too large or too valuable to
// keep only in the Indexer's in-memory collections: a snapshot row per
// build (spec.md §4.5 phase 5's "insert a row into a graph_rag_snapshots
// table") and the vector records backing similarity search, so a
// restarted process can inspect past builds without rerunning embeddings.
type Store struct {
	db *sqlx.DB
}

// OpenStore opens (creating and migrating on first use) the SQLite
// database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, errors.NewStoreIOError("open graph rag store", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, errors.NewStoreIOError("set goose dialect", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		return nil, errors.NewStoreIOError("apply graph rag migrations", err)
	}

	return &Store{db: db}, nil
}

// FromDB wraps an already-open handle (a sqlmock connection in tests)
// without running migrations against it.
func FromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSnapshot inserts one graph_rag_snapshots row capturing g's node-link
// serialization (spec.md §4.5 phase 5).
func (s *Store) SaveSnapshot(ctx context.Context, runID string, g *Graph) error {
	doc, err := g.MarshalNodeLink()
	if err != nil {
		return errors.NewStoreIOError("marshal graph snapshot", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO graph_rag_snapshots (run_id, node_count, edge_count, graph_json, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		runID, len(g.Nodes()), len(g.Edges()), string(doc), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.NewStoreIOError("insert graph rag snapshot", err)
	}
	return nil
}

// SnapshotCount reports how many snapshot rows exist for runID, used by
// tests to assert a build actually persisted one.
func (s *Store) SnapshotCount(ctx context.Context, runID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM graph_rag_snapshots WHERE run_id = ?`, runID); err != nil {
		return 0, errors.NewStoreIOError("count graph rag snapshots", err)
	}
	return n, nil
}

// SaveVectorCollection replaces every persisted record for collection with
// vc's current contents, batched at upsertBatchSize per spec.md §4.5's
// "batch size 300 for all upserts" -- mirroring VectorCollection.Rebuild's
// own drop-and-recreate semantics.
func (s *Store) SaveVectorCollection(ctx context.Context, collection string, vc *VectorCollection) error {
	records := vc.Records()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.NewStoreIOError("begin vector collection transaction", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vector_records WHERE collection = ?`, collection); err != nil {
		_ = tx.Rollback()
		return errors.NewStoreIOError("clear vector collection", err)
	}

	for start := 0; start < len(records); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		for _, r := range records[start:end] {
			embeddingJSON, err := json.Marshal(r.Embedding)
			if err != nil {
				_ = tx.Rollback()
				return errors.NewStoreIOError("marshal vector embedding", err)
			}
			metadataJSON, err := json.Marshal(r.Metadata)
			if err != nil {
				_ = tx.Rollback()
				return errors.NewStoreIOError("marshal vector metadata", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO vector_records (collection, id, embedding_json, metadata_json) VALUES (?, ?, ?, ?)`,
				collection, r.ID, string(embeddingJSON), string(metadataJSON),
			); err != nil {
				_ = tx.Rollback()
				return errors.NewStoreIOError("insert vector record", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStoreIOError("commit vector collection transaction", err)
	}
	return nil
}

// LoadVectorCollection returns every record persisted for collection, for
// rehydrating a VectorCollection without rerunning embeddings.
func (s *Store) LoadVectorCollection(ctx context.Context, collection string) ([]VectorRecord, error) {
	type row struct {
		ID            string `db:"id"`
		EmbeddingJSON string `db:"embedding_json"`
		MetadataJSON  string `db:"metadata_json"`
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, embedding_json, metadata_json FROM vector_records WHERE collection = ?`, collection,
	); err != nil {
		return nil, errors.NewStoreIOError("select vector records", err)
	}

	out := make([]VectorRecord, 0, len(rows))
	for _, r := range rows {
		var embedding []float64
		if err := json.Unmarshal([]byte(r.EmbeddingJSON), &embedding); err != nil {
			return nil, errors.NewStoreIOError("unmarshal vector embedding", err)
		}
		var metadata map[string]interface{}
		if err := json.Unmarshal([]byte(r.MetadataJSON), &metadata); err != nil {
			return nil, errors.NewStoreIOError("unmarshal vector metadata", err)
		}
		out = append(out, VectorRecord{ID: r.ID, Embedding: embedding, Metadata: metadata})
	}
	return out, nil
}
