package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite"

	applog "aidledger/internal/log"
)

// SQLiteRepository stores every collection as JSON documents in a single
// table ordered by insertion sequence.
type SQLiteRepository struct {
	db     *sql.DB
	logger *applog.Logger
}

var (
	_ Store       = (*SQLiteRepository)(nil)
	_ BatchSetter = (*SQLiteRepository)(nil)
)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// one logical writer
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{db: db, logger: applog.ForComponent(applog.ComponentStorage)}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) GetAll(ctx context.Context, collection string) ([]Document, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, body FROM documents WHERE collection = ? ORDER BY seq`, collection)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			id   string
			body string
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		docs = append(docs, Document{ID: id, Body: json.RawMessage(body)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", collection, err)
	}
	return docs, nil
}

func (r *SQLiteRepository) Add(ctx context.Context, collection string, doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("add to %s: empty id", collection)
	}
	if !json.Valid(doc.Body) {
		return fmt.Errorf("add to %s: invalid json body", collection)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)`,
		collection, doc.ID, string(doc.Body))
	if err != nil {
		return fmt.Errorf("insert %s %s: %w", collection, doc.ID, err)
	}

	r.logger.DebugContext(ctx, "Document added", "collection", collection, "id", doc.ID)
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	var body string
	err = tx.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(collection, id)
	}
	if err != nil {
		return fmt.Errorf("load %s %s: %w", collection, id, err)
	}

	merged, err := mergeFields([]byte(body), fields)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET body = ?, updated_at = CURRENT_TIMESTAMP WHERE collection = ? AND id = ?`,
		string(merged), collection, id); err != nil {
		return fmt.Errorf("update %s %s: %w", collection, id, err)
	}
	return tx.Commit()
}

func (r *SQLiteRepository) Set(ctx context.Context, collection string, docs []Document) error {
	return r.SetBatch(ctx, map[string][]Document{collection: docs})
}

// SetBatch replaces all named collections inside one transaction.
func (r *SQLiteRepository) SetBatch(ctx context.Context, batch map[string][]Document) error {
	for coll, docs := range batch {
		if err := validateDocs(coll, docs); err != nil {
			return err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set: %w", err)
	}
	defer tx.Rollback()

	colls := make([]string, 0, len(batch))
	for c := range batch {
		colls = append(colls, c)
	}
	sort.Strings(colls)

	for _, coll := range colls {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ?`, coll); err != nil {
			return fmt.Errorf("clear %s: %w", coll, err)
		}
		for _, d := range batch[coll] {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)`,
				coll, d.ID, string(d.Body)); err != nil {
				return fmt.Errorf("insert %s %s: %w", coll, d.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set: %w", err)
	}

	r.logger.DebugContext(ctx, "Collections replaced", "collections", colls)
	return nil
}

func (r *SQLiteRepository) GenerateID(prefix string) string {
	return NewID(prefix)
}

// Count returns the number of documents in a collection.
func (r *SQLiteRepository) Count(ctx context.Context, collection string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE collection = ?`, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}
