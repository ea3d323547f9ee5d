package docstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const findDocumentSQL = `
SELECT doc
FROM documents
WHERE collection = $1 AND id = $2
`

const upsertDocumentFieldsSQL = `
INSERT INTO documents (collection, id, doc)
VALUES ($1, $2, $3::jsonb)
ON CONFLICT (collection, id) DO UPDATE
SET doc = documents.doc || EXCLUDED.doc,
    updated_at = now()
`

const replaceDocumentSQL = `
UPDATE documents
SET doc = $3::jsonb,
    updated_at = now()
WHERE collection = $1 AND id = $2
`

const insertDocumentSQL = `
INSERT INTO documents (collection, id, doc)
VALUES ($1, $2, $3::jsonb)
`

const uniqueViolation = "23505"

// Postgres stores documents as JSONB rows of the documents table created by
// the migrate package.
type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool}
}

func (p *Postgres) Find(ctx context.Context, collection, id string) (json.RawMessage, error) {
	var doc []byte
	err := p.Pool.QueryRow(ctx, findDocumentSQL, collection, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("find", collection, id, err)
	}
	return doc, nil
}

func (p *Postgres) UpsertFields(ctx context.Context, collection, id string, fields Fields) error {
	if err := checkFields(fields); err != nil {
		return err
	}
	patch, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	if _, err := p.Pool.Exec(ctx, upsertDocumentFieldsSQL, collection, id, string(patch)); err != nil {
		return storeErr("upsert", collection, id, err)
	}
	return nil
}

func (p *Postgres) Replace(ctx context.Context, collection, id string, doc json.RawMessage) error {
	if err := checkObject(doc); err != nil {
		return err
	}
	tag, err := p.Pool.Exec(ctx, replaceDocumentSQL, collection, id, string(doc))
	if err != nil {
		return storeErr("replace", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Insert(ctx context.Context, collection, id string, doc json.RawMessage) error {
	if err := checkObject(doc); err != nil {
		return err
	}
	if _, err := p.Pool.Exec(ctx, insertDocumentSQL, collection, id, string(doc)); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyExists
		}
		return storeErr("insert", collection, id, err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}
