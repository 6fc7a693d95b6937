// Package kv is the embedded store.Repository: badger holds the rows, metadata is JSON
// and record payloads are BSON documents.
package kv

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"minicrm/internal/model"
	"minicrm/internal/store"
)

// key layout
const (
	prefixTable      = "tbl/"
	prefixColumn     = "col/"
	prefixEnum       = "enm/"
	prefixLinkTable  = "lnk/"
	prefixRecord     = "rec/" // rec/<table id>/<record id>
	prefixLinkRecord = "lrc/" // lrc/<link table id>/<link record id>
)

type Store struct {
	db *badger.DB
}

var _ store.Repository = (*Store)(nil)

// Open opens the database in dir. An empty dir keeps everything in memory.
func Open(dir string, log *zap.SugaredLogger) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	if log != nil {
		opts = opts.WithLogger(badgerLogger{log.Named("badger")})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "kv: open %q", dir)
	}
	return &Store{db: db}, nil
}

// badgerLogger adapts zap to badger.Logger.
type badgerLogger struct{ *zap.SugaredLogger }

func (l badgerLogger) Warningf(format string, args ...any) { l.Warnf(format, args...) }

func (s *Store) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.New("kv: closed")
	}
	return nil
}

func (s *Store) Close() error {
	return errors.Wrap(s.db.Close(), "kv: close")
}

func rowKey(prefix, owner, id string) []byte {
	return []byte(prefix + owner + "/" + id)
}

func (s *Store) put(key []byte, val []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

func (s *Store) putJSON(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "kv: encode")
	}
	return errors.Wrapf(s.put([]byte(key), b), "kv: put %s", key)
}

func (s *Store) get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "kv: get %s", key)
	}
	return out, nil
}

// scan calls fn for every value under prefix, in key order.
func scan(txn *badger.Txn, prefix string, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(item.KeyCopy(nil), val); err != nil {
			return err
		}
	}
	return nil
}

// remove deletes key and fails with store.ErrNotFound when it is absent.
func remove(txn *badger.Txn, key []byte) error {
	if _, err := txn.Get(key); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return store.ErrNotFound
		}
		return err
	}
	return txn.Delete(key)
}

// dropPrefix deletes every key under prefix inside txn.
func dropPrefix(txn *badger.Txn, prefix string) error {
	var keys [][]byte
	if err := scan(txn, prefix, func(k, _ []byte) error {
		keys = append(keys, k)
		return nil
	}); err != nil {
		return err
	}
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) LoadSchema(_ context.Context) (*model.Schema, error) {
	sc := &model.Schema{Tables: []*model.Table{}, Enums: []*model.Enum{}, LinkTables: []*model.LinkTable{}}
	var cols []*model.Column
	err := s.db.View(func(txn *badger.Txn) error {
		if err := scan(txn, prefixTable, func(_, v []byte) error {
			t := &model.Table{}
			if err := json.Unmarshal(v, t); err != nil {
				return err
			}
			t.Columns = []*model.Column{}
			sc.Tables = append(sc.Tables, t)
			return nil
		}); err != nil {
			return err
		}
		if err := scan(txn, prefixEnum, func(_, v []byte) error {
			e := &model.Enum{}
			if err := json.Unmarshal(v, e); err != nil {
				return err
			}
			if e.Values == nil {
				e.Values = []string{}
			}
			sc.Enums = append(sc.Enums, e)
			return nil
		}); err != nil {
			return err
		}
		if err := scan(txn, prefixLinkTable, func(_, v []byte) error {
			l := &model.LinkTable{}
			if err := json.Unmarshal(v, l); err != nil {
				return err
			}
			l.Columns = []*model.Column{}
			sc.LinkTables = append(sc.LinkTables, l)
			return nil
		}); err != nil {
			return err
		}
		return scan(txn, prefixColumn, func(_, v []byte) error {
			c := &model.Column{}
			if err := json.Unmarshal(v, c); err != nil {
				return err
			}
			cols = append(cols, c)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "kv: load schema")
	}
	for _, c := range cols {
		if c.TableID != "" {
			if t, ok := sc.TableByID(c.TableID); ok {
				t.Columns = append(t.Columns, c)
			}
			continue
		}
		if l, ok := sc.LinkTableByID(c.LinkTableID); ok {
			l.Columns = append(l.Columns, c)
		}
	}
	sc.Sort()
	return sc, nil
}

func (s *Store) SaveTable(_ context.Context, t *model.Table) error {
	cp := *t
	cp.Columns = nil
	return s.putJSON(prefixTable+t.ID, &cp)
}

func (s *Store) DeleteTable(_ context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := remove(txn, []byte(prefixTable+id)); err != nil {
			return err
		}
		if err := dropColumns(txn, id); err != nil {
			return err
		}
		return dropPrefix(txn, prefixRecord+id+"/")
	})
	return wrapDelete(err, "table", id)
}

// dropColumns removes the columns owned by a table or link table.
func dropColumns(txn *badger.Txn, ownerID string) error {
	var keys [][]byte
	if err := scan(txn, prefixColumn, func(k, v []byte) error {
		c := &model.Column{}
		if err := json.Unmarshal(v, c); err != nil {
			return err
		}
		if c.OwnerID() == ownerID {
			keys = append(keys, k)
		}
		return nil
	}); err != nil {
		return err
	}
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func wrapDelete(err error, kind, id string) error {
	if err == nil || errors.Is(err, store.ErrNotFound) {
		return err
	}
	return errors.Wrapf(err, "kv: delete %s %s", kind, id)
}

func (s *Store) SaveColumn(_ context.Context, c *model.Column) error {
	return s.putJSON(prefixColumn+c.ID, c)
}

func (s *Store) DeleteColumn(_ context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error { return remove(txn, []byte(prefixColumn+id)) })
	return wrapDelete(err, "column", id)
}

func (s *Store) SaveEnum(_ context.Context, e *model.Enum) error {
	return s.putJSON(prefixEnum+e.ID, e)
}

func (s *Store) DeleteEnum(_ context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error { return remove(txn, []byte(prefixEnum+id)) })
	return wrapDelete(err, "enum", id)
}

func (s *Store) SaveLinkTable(_ context.Context, l *model.LinkTable) error {
	cp := *l
	cp.Columns = nil
	return s.putJSON(prefixLinkTable+l.ID, &cp)
}

func (s *Store) DeleteLinkTable(_ context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := remove(txn, []byte(prefixLinkTable+id)); err != nil {
			return err
		}
		if err := dropColumns(txn, id); err != nil {
			return err
		}
		return dropPrefix(txn, prefixLinkRecord+id+"/")
	})
	return wrapDelete(err, "link table", id)
}

func (s *Store) SaveRecord(_ context.Context, r *model.Record) error {
	b, err := encodeRecord(r)
	if err != nil {
		return err
	}
	return errors.Wrapf(s.put(rowKey(prefixRecord, r.TableID, r.ID), b), "kv: save record %s", r.ID)
}

func (s *Store) GetRecord(_ context.Context, tableID, id string) (*model.Record, error) {
	b, err := s.get(rowKey(prefixRecord, tableID, id))
	if err != nil {
		return nil, err
	}
	return decodeRecord(b)
}

func (s *Store) DeleteRecord(_ context.Context, tableID, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error { return remove(txn, rowKey(prefixRecord, tableID, id)) })
	return wrapDelete(err, "record", id)
}

func (s *Store) ListRecords(_ context.Context, tableID string) ([]*model.Record, error) {
	out := []*model.Record{}
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, prefixRecord+tableID+"/", func(_, v []byte) error {
			r, err := decodeRecord(v)
			if err != nil {
				return err
			}
			out = append(out, r)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "kv: list records")
	}
	return out, nil
}

func (s *Store) CountRecords(_ context.Context, tableID string) (int, error) {
	return s.count(prefixRecord + tableID + "/")
}

func (s *Store) count(prefix string) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, errors.Wrapf(err, "kv: count %s", prefix)
}

func (s *Store) SaveLinkRecord(_ context.Context, r *model.LinkRecord) error {
	b, err := encodeLinkRecord(r)
	if err != nil {
		return err
	}
	return errors.Wrapf(s.put(rowKey(prefixLinkRecord, r.LinkTableID, r.ID), b), "kv: save link record %s", r.ID)
}

func (s *Store) GetLinkRecord(_ context.Context, linkTableID, id string) (*model.LinkRecord, error) {
	b, err := s.get(rowKey(prefixLinkRecord, linkTableID, id))
	if err != nil {
		return nil, err
	}
	return decodeLinkRecord(b)
}

func (s *Store) DeleteLinkRecord(_ context.Context, linkTableID, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error { return remove(txn, rowKey(prefixLinkRecord, linkTableID, id)) })
	return wrapDelete(err, "link record", id)
}

func (s *Store) ListLinkRecords(_ context.Context, linkTableID string) ([]*model.LinkRecord, error) {
	out := []*model.LinkRecord{}
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, prefixLinkRecord+linkTableID+"/", func(_, v []byte) error {
			r, err := decodeLinkRecord(v)
			if err != nil {
				return err
			}
			out = append(out, r)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "kv: list link records")
	}
	return out, nil
}

func (s *Store) CountLinkRecords(_ context.Context, linkTableID string) (int, error) {
	return s.count(prefixLinkRecord + linkTableID + "/")
}

func unixNano(t time.Time) int64 { return t.UnixNano() }

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }
