package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
)

// Ensure Datastore implements Batching at compile time.
var _ ds.Batching = (*Datastore)(nil)

// Datastore exposes the blocks table as a go-datastore. It shares the
// Store's connection pool and is closed with it.
type Datastore struct {
	db *sql.DB
}

func (d *Datastore) Get(ctx context.Context, key ds.Key) ([]byte, error) {
	var data []byte
	err := d.db.QueryRowContext(ctx,
		`SELECT data FROM blocks WHERE key = ?`,
		key.String()).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ds.ErrNotFound
	}
	return data, err
}

func (d *Datastore) Has(ctx context.Context, key ds.Key) (bool, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM blocks WHERE key = ?`,
		key.String()).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (d *Datastore) GetSize(ctx context.Context, key ds.Key) (int, error) {
	var size int
	err := d.db.QueryRowContext(ctx,
		`SELECT length(data) FROM blocks WHERE key = ?`,
		key.String()).Scan(&size)
	if err == sql.ErrNoRows {
		return -1, ds.ErrNotFound
	}
	if err != nil {
		return -1, err
	}
	return size, nil
}

func (d *Datastore) Put(ctx context.Context, key ds.Key, value []byte) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO blocks (key, data) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data`,
		key.String(), value)
	return err
}

func (d *Datastore) Delete(ctx context.Context, key ds.Key) error {
	_, err := d.db.ExecContext(ctx,
		`DELETE FROM blocks WHERE key = ?`,
		key.String())
	return err
}

// Query loads the rows under the query prefix and applies the rest of the
// query in memory.
func (d *Datastore) Query(ctx context.Context, q query.Query) (query.Results, error) {
	prefix := ds.NewKey(q.Prefix).String()
	if prefix == "/" {
		prefix = ""
	}
	cols := "key, data"
	if q.KeysOnly && !q.ReturnsSizes {
		cols = "key, NULL"
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+cols+` FROM blocks WHERE substr(key, 1, length(?)) = ? ORDER BY key`,
		prefix, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []query.Entry
	for rows.Next() {
		var (
			key  string
			data []byte
		)
		if err := rows.Scan(&key, &data); err != nil {
			return nil, err
		}
		e := query.Entry{Key: key, Size: len(data)}
		if !q.KeysOnly {
			e.Value = data
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return query.NaiveQueryApply(q, query.ResultsWithEntries(q, entries)), nil
}

func (d *Datastore) Sync(ctx context.Context, prefix ds.Key) error {
	return nil
}

// Close is a no-op; the owning Store closes the database.
func (d *Datastore) Close() error {
	return nil
}

// Batch returns a batch whose operations are applied in one SQL transaction.
func (d *Datastore) Batch(ctx context.Context) (ds.Batch, error) {
	return &batch{d: d}, nil
}

type batchOp struct {
	key    ds.Key
	value  []byte
	delete bool
}

type batch struct {
	d   *Datastore
	ops []batchOp
}

func (b *batch) Put(ctx context.Context, key ds.Key, value []byte) error {
	b.ops = append(b.ops, batchOp{key: key, value: value})
	return nil
}

func (b *batch) Delete(ctx context.Context, key ds.Key) error {
	b.ops = append(b.ops, batchOp{key: key, delete: true})
	return nil
}

func (b *batch) Commit(ctx context.Context) error {
	sqlTx, err := b.d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer sqlTx.Rollback()

	for _, op := range b.ops {
		if op.delete {
			_, err = sqlTx.ExecContext(ctx, `DELETE FROM blocks WHERE key = ?`, op.key.String())
		} else {
			_, err = sqlTx.ExecContext(ctx,
				`INSERT INTO blocks (key, data) VALUES (?, ?)
				 ON CONFLICT(key) DO UPDATE SET data = excluded.data`,
				op.key.String(), op.value)
		}
		if err != nil {
			return fmt.Errorf("apply batch op on %s: %w", op.key, err)
		}
	}
	if err := sqlTx.Commit(); err != nil {
		return err
	}
	b.ops = nil
	return nil
}
