package docstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore keeps documents as JSONB rows in a single documents table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// DB exposes the pool so other components can share the connection.
func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, `SELECT fields FROM documents WHERE collection=$1 AND id=$2`, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeJSON(raw)
}

func (p *PostgresStore) Set(ctx context.Context, collection, id string, fields Document) error {
	b, err := json.Marshal(clone(fields))
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO documents(collection, id, fields, updated_at) VALUES($1,$2,$3,now())
		ON CONFLICT (collection, id) DO UPDATE SET fields=EXCLUDED.fields, updated_at=now()`,
		collection, id, b)
	return err
}

func (p *PostgresStore) Add(ctx context.Context, collection string, fields Document) (string, error) {
	b, err := json.Marshal(clone(fields))
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	id := newID()
	if _, err := p.db.ExecContext(ctx, `INSERT INTO documents(collection, id, fields, updated_at) VALUES($1,$2,$3,now())`,
		collection, id, b); err != nil {
		return "", err
	}
	return id, nil
}

func (p *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM documents WHERE collection=$1 AND id=$2`, collection, id)
	return err
}

// decodeJSON keeps numbers as json.Number so integer fields survive unchanged.
func decodeJSON(raw []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	doc := Document{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}
