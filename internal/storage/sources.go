package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// UpsertSource records a source, replacing an existing entry of the same name.
func (s *Store) UpsertSource(ctx context.Context, src Source) error {
	uploaded := src.UploadedAt
	if uploaded.IsZero() {
		uploaded = time.Now().UTC()
	}
	questions := src.SuggestedQuestions
	if questions == nil {
		questions = []string{}
	}
	encoded, err := json.Marshal(questions)
	if err != nil {
		return fmt.Errorf("encoding suggested questions for %s: %w", src.Name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sources (name, type, size, chunks, uploaded_at, summary, suggested_questions)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			type = excluded.type, size = excluded.size, chunks = excluded.chunks,
			uploaded_at = excluded.uploaded_at, summary = excluded.summary,
			suggested_questions = excluded.suggested_questions`,
		src.Name, src.Type, src.Size, src.Chunks, uploaded.UTC().Format(time.RFC3339), src.Summary, string(encoded),
	)
	return err
}

func (s *Store) GetSource(ctx context.Context, name string) (Source, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, type, size, chunks, uploaded_at, summary, suggested_questions FROM sources WHERE name = ?`, name)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Source{}, ErrNotFound
	}
	return src, err
}

// ListSources returns sources ordered by upload time, newest first. An
// empty typ lists every type.
func (s *Store) ListSources(ctx context.Context, typ string) ([]Source, error) {
	query := `SELECT name, type, size, chunks, uploaded_at, summary, suggested_questions FROM sources`
	var args []any
	if typ != "" {
		query += ` WHERE type = ?`
		args = append(args, typ)
	}
	query += ` ORDER BY uploaded_at DESC, name ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSource(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE name = ?`, name)
	if err != nil {
		return err
	}
	return expectOne(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(r rowScanner) (Source, error) {
	var src Source
	var uploaded, questions string
	if err := r.Scan(&src.Name, &src.Type, &src.Size, &src.Chunks, &uploaded, &src.Summary, &questions); err != nil {
		return Source{}, err
	}
	if err := json.Unmarshal([]byte(questions), &src.SuggestedQuestions); err != nil {
		return Source{}, fmt.Errorf("decoding suggested questions for %s: %w", src.Name, err)
	}
	t, err := time.Parse(time.RFC3339, uploaded)
	if err != nil {
		return Source{}, fmt.Errorf("parsing uploaded_at for %s: %w", src.Name, err)
	}
	src.UploadedAt = t
	return src, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
