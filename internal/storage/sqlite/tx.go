package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/relves/splitescrow/internal/storage"
	"github.com/relves/splitescrow/pkg/types"
)

type tx struct {
	tx      *sql.Tx
	release func()
	done    bool
}

func (t *tx) Commit() error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true
	defer t.release()
	return t.tx.Commit()
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.release()
	return t.tx.Rollback()
}

func (t *tx) Exists(ctx context.Context, addr string) (bool, error) {
	var count int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE address = ?`,
		addr).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

type record interface {
	Serialize() ([]byte, error)
	Deserialize([]byte) error
}

func (t *tx) getRecord(ctx context.Context, kind types.Kind, addr string, v record) error {
	var data []byte
	err := t.tx.QueryRowContext(ctx,
		`SELECT data FROM records WHERE address = ? AND kind = ?`,
		addr, string(kind)).Scan(&data)
	if err == sql.ErrNoRows {
		return storage.ErrNotFound
	}
	if err != nil {
		return err
	}
	return v.Deserialize(data)
}

func (t *tx) putRecord(ctx context.Context, kind types.Kind, addr, parent string, v record) error {
	data, err := v.Serialize()
	if err != nil {
		return err
	}
	ts := now()
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO records (address, kind, parent, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(address) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
		 WHERE records.kind = excluded.kind`,
		addr, string(kind), parent, data, ts, ts)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("address %s already holds a record of another kind", addr)
	}
	return nil
}

func (t *tx) GetGroup(ctx context.Context, addr string) (*types.Group, error) {
	var g types.Group
	if err := t.getRecord(ctx, types.KindGroup, addr, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (t *tx) PutGroup(ctx context.Context, g *types.Group) error {
	return t.putRecord(ctx, types.KindGroup, g.Address, "", g)
}

func (t *tx) GetMember(ctx context.Context, addr string) (*types.Member, error) {
	var m types.Member
	if err := t.getRecord(ctx, types.KindMember, addr, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (t *tx) PutMember(ctx context.Context, m *types.Member) error {
	return t.putRecord(ctx, types.KindMember, m.Address, m.Group, m)
}

func (t *tx) ListMembers(ctx context.Context, group string) ([]*types.Member, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT data FROM records WHERE kind = ? AND parent = ? ORDER BY address`,
		string(types.KindMember), group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*types.Member
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var m types.Member
		if err := m.Deserialize(data); err != nil {
			return nil, err
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

func (t *tx) GetEscrow(ctx context.Context, addr string) (*types.Escrow, error) {
	var e types.Escrow
	if err := t.getRecord(ctx, types.KindEscrow, addr, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *tx) PutEscrow(ctx context.Context, e *types.Escrow) error {
	return t.putRecord(ctx, types.KindEscrow, e.Address, e.Group, e)
}

func (t *tx) GetAccount(ctx context.Context, addr string) (*types.AssetAccount, error) {
	var a types.AssetAccount
	if err := t.getRecord(ctx, types.KindAccount, addr, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *tx) PutAccount(ctx context.Context, a *types.AssetAccount) error {
	return t.putRecord(ctx, types.KindAccount, a.Address, "", a)
}

func (t *tx) HasInstruction(ctx context.Context, instruction string) (bool, error) {
	var count int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM receipts WHERE instruction_cid = ?`,
		instruction).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (t *tx) AppendReceipt(ctx context.Context, seq uint64, instruction string, data []byte) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO receipts (seq, instruction_cid, data, created_at) VALUES (?, ?, ?, ?)`,
		seq, instruction, data, now())
	return err
}

func (t *tx) GetReceipt(ctx context.Context, seq uint64) ([]byte, error) {
	var data []byte
	err := t.tx.QueryRowContext(ctx,
		`SELECT data FROM receipts WHERE seq = ?`,
		seq).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	return data, err
}

// GetTreeState returns an empty state if nothing was journaled yet.
func (t *tx) GetTreeState(ctx context.Context) (*storage.TreeState, error) {
	var (
		size   uint64
		root   []byte
		hashes []byte
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT size, root, hashes FROM tree_state WHERE id = 1`).Scan(&size, &root, &hashes)
	if err == sql.ErrNoRows {
		return &storage.TreeState{}, nil
	}
	if err != nil {
		return nil, err
	}
	decoded, err := storage.DecodeHashes(hashes)
	if err != nil {
		return nil, err
	}
	return &storage.TreeState{Size: size, Root: root, Hashes: decoded}, nil
}

// SetTreeState sets the tree state (upsert).
func (t *tx) SetTreeState(ctx context.Context, st *storage.TreeState) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO tree_state (id, size, root, hashes) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET size = excluded.size, root = excluded.root, hashes = excluded.hashes`,
		st.Size, st.Root, storage.EncodeHashes(st.Hashes))
	return err
}
