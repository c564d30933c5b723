package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertChunks persists records in one transaction. Either every record is
// stored or none is.
func (s *Store) InsertChunks(ctx context.Context, records []ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertChunksTx(ctx, tx, records); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceChunksBySource swaps every chunk of source for records in one
// transaction and reports how many old chunks were removed. On error the
// previous chunks are left in place.
func (s *Store) ReplaceChunksBySource(ctx context.Context, source string, records []ChunkRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning replace transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM knowledge_chunks WHERE source = ?", source)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks of %s: %w", source, err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := insertChunksTx(ctx, tx, records); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing replace of %s: %w", source, err)
	}
	return int(removed), nil
}

func insertChunksTx(ctx context.Context, tx *sql.Tx, records []ChunkRecord) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO knowledge_chunks (id, source, source_type, chunk_index, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Source, r.SourceType, r.ChunkIndex, r.Content, r.Embedding,
			createdAt.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", r.ID, err)
		}
	}
	return nil
}

// ExportChunks returns every persisted chunk in insertion order.
func (s *Store) ExportChunks(ctx context.Context) ([]ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, source_type, chunk_index, content, embedding, created_at
		FROM knowledge_chunks ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var records []ChunkRecord
	for rows.Next() {
		var r ChunkRecord
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Source, &r.SourceType, &r.ChunkIndex, &r.Content, &r.Embedding, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for chunk %s: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountChunks returns the number of persisted chunks.
func (s *Store) CountChunks(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM knowledge_chunks").Scan(&n)
	return n, err
}

// DeleteChunksBySource removes every chunk of source and reports how many
// were removed.
func (s *Store) DeleteChunksBySource(ctx context.Context, source string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM knowledge_chunks WHERE source = ?", source)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks of %s: %w", source, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
