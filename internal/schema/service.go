// Package schema owns the runtime-defined metadata: tables, columns, enums and link tables.
package schema

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"minicrm/internal/apperr"
	"minicrm/internal/model"
	"minicrm/internal/notify"
	"minicrm/internal/relation"
	"minicrm/internal/store"
	"minicrm/internal/validation"
)

// Repository is the slice of the store the schema service needs: metadata rows plus
// record counts for the "dependents exist" checks.
type Repository interface {
	store.SchemaRepository
	CountRecords(ctx context.Context, tableID string) (int, error)
	CountLinkRecords(ctx context.Context, linkTableID string) (int, error)
}

// Service keeps a copy-on-write snapshot of the schema. Every mutation is written
// through to the repository, swaps the snapshot and then publishes a schema_update event.
type Service struct {
	mu     sync.RWMutex
	cur    *model.Schema
	repo   Repository
	engine *validation.Engine
	pub    notify.Publisher
	log    *zap.SugaredLogger
	now    func() time.Time
}

func New(ctx context.Context, repo Repository, engine *validation.Engine, pub notify.Publisher, log *zap.SugaredLogger) (*Service, error) {
	if pub == nil {
		pub = notify.Discard
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if engine == nil {
		engine = validation.New()
	}
	s := &Service{repo: repo, engine: engine, pub: pub, log: log, now: func() time.Time { return time.Now().UTC() }}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload replaces the cached snapshot with what the repository holds.
func (s *Service) Reload(ctx context.Context) error {
	sc, err := s.repo.LoadSchema(ctx)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	sc.Sort()
	s.mu.Lock()
	s.cur = sc
	s.mu.Unlock()
	return nil
}

// Current returns the live snapshot. It is never mutated after publication; callers must
// not modify it either.
func (s *Service) Current() *model.Schema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

func (s *Service) Table(key string) (*model.Table, error) {
	sc := s.Current()
	if t, ok := sc.TableByID(key); ok {
		return t, nil
	}
	if t, ok := sc.TableByName(key); ok {
		return t, nil
	}
	return nil, apperr.NotFound("table", key)
}

func (s *Service) Enum(key string) (*model.Enum, error) {
	sc := s.Current()
	if e, ok := sc.EnumByID(key); ok {
		return e, nil
	}
	if e, ok := sc.EnumByName(key); ok {
		return e, nil
	}
	return nil, apperr.NotFound("enum", key)
}

func (s *Service) LinkTable(key string) (*model.LinkTable, error) {
	sc := s.Current()
	if l, ok := sc.LinkTableByID(key); ok {
		return l, nil
	}
	if l, ok := sc.LinkTableByName(key); ok {
		return l, nil
	}
	return nil, apperr.NotFound("link table", key)
}

// mutate runs fn against a private clone of the snapshot. fn persists its changes and
// returns the event to publish; the clone becomes current only if fn succeeds.
func (s *Service) mutate(fn func(next *model.Schema) (notify.Event, error)) error {
	s.mu.Lock()
	next := s.cur.Clone()
	ev, err := fn(next)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	next.Sort()
	s.cur = next
	s.mu.Unlock()

	s.log.Infow("schema changed", "action", ev.Action, "table", ev.Table, "column", ev.Column,
		"enum", ev.Enum, "link_table", ev.LinkTable)
	s.pub.Publish(ev)
	return nil
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkName(kind, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Invalid(apperr.Ferr(apperr.CodeRequired, "name", kind+" name is required"))
	}
	if len(name) > 128 {
		return "", apperr.Invalid(apperr.Ferr(apperr.CodeInvalid, "name", kind+" name is too long"))
	}
	return name, nil
}

func usesPlaceholder(format, column string) bool {
	for _, p := range relation.Placeholders(format) {
		if p == column {
			return true
		}
	}
	return false
}

func wrapRepo(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
