package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"healthcare-portal/internal/docstore"
)

func encodeDoc(data map[string]any) ([]byte, error) {
	return json.Marshal(docstore.EncodeJSON(docstore.NormalizeMap(data)))
}

func decodeDoc(raw map[string]any) map[string]any {
	if raw == nil {
		return map[string]any{}
	}
	return docstore.DecodeJSON(raw).(map[string]any)
}

func (s *Store) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.New().String()
	body, err := encodeDoc(data)
	if err != nil {
		return "", err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1,$2,$3)`,
		collection, id, body,
	)
	return id, err
}

func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any) error {
	body, err := encodeDoc(data)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1,$2,$3)
		 ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
		collection, id, body,
	)
	return err
}

// Update merges top-level fields (jsonb ||).
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	body, err := encodeDoc(fields)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET data = data || $3::jsonb, updated_at = NOW()
		 WHERE collection = $1 AND id = $2`,
		collection, id, body,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	var raw map[string]any
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`, collection, id,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &docstore.Document{ID: id, Data: decodeDoc(raw)}, nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	sql, args, err := buildQuery(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []docstore.Document{}
	for rows.Next() {
		var (
			id  string
			raw map[string]any
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		out = append(out, docstore.Document{ID: id, Data: decodeDoc(raw)})
	}
	return out, rows.Err()
}

// buildQuery translates q into SQL over the JSONB column. Field names and
// values are always bound as parameters. jsonb ordering matches
// docstore.Compare for values of one type, and encoded timestamps compare
// by _seconds before _nanoseconds because shorter keys sort first.
func buildQuery(q docstore.Query) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}

	var b strings.Builder
	args := []any{q.Collection}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	b.WriteString(`SELECT id, data FROM documents WHERE collection = $1`)
	for _, f := range q.Filters {
		val, err := json.Marshal(docstore.EncodeJSON(docstore.Normalize(f.Value)))
		if err != nil {
			return "", nil, err
		}
		field := arg(f.Field)
		value := arg(string(val))
		switch f.Op {
		case docstore.OpEq:
			fmt.Fprintf(&b, ` AND data -> %s::text = %s::jsonb`, field, value)
		case docstore.OpGte:
			fmt.Fprintf(&b, ` AND data -> %s::text >= %s::jsonb AND jsonb_typeof(data -> %s::text) = jsonb_typeof(%s::jsonb)`,
				field, value, field, value)
		case docstore.OpIn:
			fmt.Fprintf(&b, ` AND data -> %s::text IN (SELECT jsonb_array_elements(%s::jsonb))`, field, value)
		}
	}

	if q.Order != nil {
		field := arg(q.Order.Field)
		dir := "ASC"
		if q.Order.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&b, ` AND data -> %s::text IS NOT NULL ORDER BY data -> %s::text %s, id`, field, field, dir)
	} else {
		b.WriteString(` ORDER BY id`)
	}
	if q.Max > 0 {
		fmt.Fprintf(&b, ` LIMIT %s`, arg(q.Max))
	}
	return b.String(), args, nil
}

// Watch holds one pooled connection in LISTEN for the life of the
// subscription and re-runs q whenever a write to q's collection is
// announced.
func (s *Store) Watch(ctx context.Context, q docstore.Query, onSnap func([]docstore.Document), onErr func(error)) (docstore.Unsubscribe, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, err
	}

	wctx, cancel := context.WithCancel(ctx)
	var once sync.Once
	unsub := func() { once.Do(cancel) }

	fail := func(err error) {
		if wctx.Err() == nil && onErr != nil {
			onErr(err)
		}
	}
	deliver := func() bool {
		docs, err := s.Query(wctx, q)
		if err != nil {
			fail(err)
			return false
		}
		if wctx.Err() != nil {
			return false
		}
		onSnap(docs)
		return true
	}

	go func() {
		defer func() {
			unsub()
			cctx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			if _, err := conn.Exec(cctx, "UNLISTEN *"); err != nil {
				conn.Conn().Close(cctx)
			}
			conn.Release()
		}()

		if !deliver() {
			return
		}
		for {
			n, err := conn.Conn().WaitForNotification(wctx)
			if err != nil {
				fail(err)
				return
			}
			if n.Payload != q.Collection {
				continue
			}
			if !deliver() {
				return
			}
		}
	}()
	return unsub, nil
}
