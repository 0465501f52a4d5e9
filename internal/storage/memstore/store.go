// Package memstore is an in-memory StateStore over go-datastore. It is the
// backend for tests and for ephemeral deployments.
package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	dssync "github.com/ipfs/go-datastore/sync"

	"github.com/relves/splitescrow/internal/storage"
	"github.com/relves/splitescrow/pkg/types"
)

var _ storage.StateStore = (*Store)(nil)

// Store keeps committed state in a batching datastore. A transaction buffers
// its writes and flushes them in one batch on commit.
type Store struct {
	base ds.Batching
	mu   sync.Mutex
}

// New returns a Store over a fresh thread-safe map datastore.
func New() *Store {
	return NewWithDatastore(dssync.MutexWrap(ds.NewMapDatastore()))
}

// NewWithDatastore returns a Store over an existing datastore.
func NewWithDatastore(d ds.Batching) *Store {
	return &Store{base: d}
}

// Datastore returns the underlying datastore.
func (s *Store) Datastore() ds.Batching {
	return s.base
}

func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	s.mu.Lock()
	return &tx{store: s, ctx: ctx, writes: make(map[ds.Key][]byte)}, nil
}

func (s *Store) Close() error {
	return s.base.Close()
}

var (
	kindsRoot    = ds.NewKey("/kinds")
	recordsRoot  = ds.NewKey("/records")
	membersRoot  = ds.NewKey("/members")
	receiptsRoot = ds.NewKey("/receipts")
	instrRoot    = ds.NewKey("/instructions")
	treeKey      = ds.NewKey("/journal/tree")
)

func recordKey(kind types.Kind, addr string) ds.Key {
	return recordsRoot.ChildString(string(kind)).ChildString(addr)
}

func seqKey(seq uint64) ds.Key {
	return receiptsRoot.ChildString(fmt.Sprintf("%020d", seq))
}

type tx struct {
	store  *Store
	ctx    context.Context
	writes map[ds.Key][]byte
	done   bool
}

func (t *tx) get(ctx context.Context, key ds.Key) ([]byte, error) {
	if v, ok := t.writes[key]; ok {
		return v, nil
	}
	v, err := t.store.base.Get(ctx, key)
	if errors.Is(err, ds.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	return v, err
}

func (t *tx) has(ctx context.Context, key ds.Key) (bool, error) {
	if _, ok := t.writes[key]; ok {
		return true, nil
	}
	return t.store.base.Has(ctx, key)
}

func (t *tx) put(key ds.Key, value []byte) {
	t.writes[key] = value
}

func (t *tx) Commit() error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true
	defer t.store.mu.Unlock()

	b, err := t.store.base.Batch(t.ctx)
	if err != nil {
		return err
	}
	for k, v := range t.writes {
		if err := b.Put(t.ctx, k, v); err != nil {
			return err
		}
	}
	return b.Commit(t.ctx)
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.writes = nil
	t.store.mu.Unlock()
	return nil
}

type record interface {
	Serialize() ([]byte, error)
	Deserialize([]byte) error
}

func (t *tx) Exists(ctx context.Context, addr string) (bool, error) {
	return t.has(ctx, kindsRoot.ChildString(addr))
}

func (t *tx) getRecord(ctx context.Context, kind types.Kind, addr string, v record) error {
	data, err := t.get(ctx, recordKey(kind, addr))
	if err != nil {
		return err
	}
	return v.Deserialize(data)
}

func (t *tx) putRecord(ctx context.Context, kind types.Kind, addr string, v record) error {
	k, err := t.get(ctx, kindsRoot.ChildString(addr))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		t.put(kindsRoot.ChildString(addr), []byte(kind))
	case err != nil:
		return err
	case types.Kind(k) != kind:
		return fmt.Errorf("address %s already holds a record of another kind", addr)
	}
	data, err := v.Serialize()
	if err != nil {
		return err
	}
	t.put(recordKey(kind, addr), data)
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
	return t.putRecord(ctx, types.KindGroup, g.Address, g)
}

func (t *tx) GetMember(ctx context.Context, addr string) (*types.Member, error) {
	var m types.Member
	if err := t.getRecord(ctx, types.KindMember, addr, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (t *tx) PutMember(ctx context.Context, m *types.Member) error {
	if err := t.putRecord(ctx, types.KindMember, m.Address, m); err != nil {
		return err
	}
	t.put(membersRoot.ChildString(m.Group).ChildString(m.Address), []byte(m.Address))
	return nil
}

func (t *tx) ListMembers(ctx context.Context, group string) ([]*types.Member, error) {
	prefix := membersRoot.ChildString(group)
	res, err := t.store.base.Query(ctx, query.Query{Prefix: prefix.String(), KeysOnly: true})
	if err != nil {
		return nil, err
	}
	entries, err := res.Rest()
	if err != nil {
		return nil, err
	}

	addrs := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		addrs[ds.RawKey(e.Key).BaseNamespace()] = struct{}{}
	}
	for k := range t.writes {
		if strings.HasPrefix(k.String(), prefix.String()+"/") {
			addrs[k.BaseNamespace()] = struct{}{}
		}
	}

	sorted := make([]string, 0, len(addrs))
	for a := range addrs {
		sorted = append(sorted, a)
	}
	sort.Strings(sorted)

	members := make([]*types.Member, 0, len(sorted))
	for _, a := range sorted {
		m, err := t.GetMember(ctx, a)
		if err != nil {
			return nil, fmt.Errorf("load member %s: %w", a, err)
		}
		members = append(members, m)
	}
	return members, nil
}

func (t *tx) GetEscrow(ctx context.Context, addr string) (*types.Escrow, error) {
	var e types.Escrow
	if err := t.getRecord(ctx, types.KindEscrow, addr, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *tx) PutEscrow(ctx context.Context, e *types.Escrow) error {
	return t.putRecord(ctx, types.KindEscrow, e.Address, e)
}

func (t *tx) GetAccount(ctx context.Context, addr string) (*types.AssetAccount, error) {
	var a types.AssetAccount
	if err := t.getRecord(ctx, types.KindAccount, addr, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *tx) PutAccount(ctx context.Context, a *types.AssetAccount) error {
	return t.putRecord(ctx, types.KindAccount, a.Address, a)
}

func (t *tx) HasInstruction(ctx context.Context, instruction string) (bool, error) {
	return t.has(ctx, instrRoot.ChildString(instruction))
}

func (t *tx) AppendReceipt(ctx context.Context, seq uint64, instruction string, data []byte) error {
	ok, err := t.has(ctx, seqKey(seq))
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("receipt %d already exists", seq)
	}
	t.put(seqKey(seq), data)
	t.put(instrRoot.ChildString(instruction), []byte(fmt.Sprint(seq)))
	return nil
}

func (t *tx) GetReceipt(ctx context.Context, seq uint64) ([]byte, error) {
	return t.get(ctx, seqKey(seq))
}

type treeState struct {
	Size   uint64 `json:"size"`
	Root   []byte `json:"root"`
	Hashes []byte `json:"hashes"`
}

func (t *tx) GetTreeState(ctx context.Context) (*storage.TreeState, error) {
	data, err := t.get(ctx, treeKey)
	if errors.Is(err, storage.ErrNotFound) {
		return &storage.TreeState{}, nil
	}
	if err != nil {
		return nil, err
	}
	var st treeState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	hashes, err := storage.DecodeHashes(st.Hashes)
	if err != nil {
		return nil, err
	}
	return &storage.TreeState{Size: st.Size, Root: st.Root, Hashes: hashes}, nil
}

func (t *tx) SetTreeState(ctx context.Context, st *storage.TreeState) error {
	data, err := json.Marshal(treeState{Size: st.Size, Root: st.Root, Hashes: storage.EncodeHashes(st.Hashes)})
	if err != nil {
		return err
	}
	t.put(treeKey, data)
	return nil
}
