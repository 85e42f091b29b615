package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/video-stream/subtitler/internal/db/models"
)

const hashChunkSize = 64 << 10

// HashFile streams path through SHA-256 in fixed-size chunks.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	n, err := io.CopyBuffer(h, f, buf)
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// InternFile registers the file at path under its content hash. When a record
// with the same hash already exists and its bytes are still on disk, the file
// at path is removed and the existing record is returned with dup set.
// Concurrent interns of identical content serialize on a per-hash file lock,
// so exactly one copy survives.
func (d *Database) InternFile(ctx context.Context, path, name string) (file *models.File, dup bool, err error) {
	hash, size, err := HashFile(path)
	if err != nil {
		return nil, false, err
	}

	lock := flock.New(filepath.Join(d.lockDir, hash+".lock"))
	locked, err := lock.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", hash, err)
	}
	if !locked {
		return nil, false, fmt.Errorf("lock %s: not acquired", hash)
	}
	defer lock.Unlock()

	err = d.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanFile(tx.QueryRowContext(ctx,
			"SELECT file_hash, file_path, file_name, file_size, uploaded_at FROM files WHERE file_hash = ?", hash))
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		default:
			if existing.Path == path {
				file, dup = existing, false
				return nil
			}
			if _, statErr := os.Stat(existing.Path); statErr == nil {
				file, dup = existing, true
				return nil
			}
			// The stored copy is gone; adopt the new bytes as the canonical copy
			if _, err := tx.ExecContext(ctx,
				"UPDATE files SET file_path = ?, file_name = ? WHERE file_hash = ?",
				path, name, hash); err != nil {
				return err
			}
			existing.Path, existing.Name = path, name
			file, dup = existing, false
			return nil
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO files (file_hash, file_path, file_name, file_size, uploaded_at) VALUES (?, ?, ?, ?, ?)",
			hash, path, name, size, formatTime(now)); err != nil {
			return err
		}
		file = &models.File{Hash: hash, Path: path, Name: name, Size: size, UploadedAt: now}
		dup = false
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if dup {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, false, fmt.Errorf("remove duplicate upload: %w", err)
		}
	}
	return file, dup, nil
}

// CountFiles returns the number of distinct files.
func (d *Database) CountFiles(ctx context.Context) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files").Scan(&n)
	return n, err
}

// DeleteOrphanFiles removes file rows no task references and returns them so
// the caller can drop the bytes.
func (d *Database) DeleteOrphanFiles(ctx context.Context) ([]models.File, error) {
	var orphans []models.File
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		orphans = orphans[:0]
		rows, err := tx.QueryContext(ctx, `
			SELECT file_hash, file_path, file_name, file_size, uploaded_at FROM files
			WHERE file_hash NOT IN (SELECT DISTINCT file_hash FROM tasks)`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			f, err := scanFile(rows)
			if err != nil {
				return err
			}
			orphans = append(orphans, *f)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()
		for _, f := range orphans {
			if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE file_hash = ?", f.Hash); err != nil {
				return err
			}
		}
		return nil
	})
	return orphans, err
}

func scanFile(scanner interface{ Scan(dest ...any) error }) (*models.File, error) {
	var (
		f          models.File
		uploadedAt string
	)
	if err := scanner.Scan(&f.Hash, &f.Path, &f.Name, &f.Size, &uploadedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	f.UploadedAt = parseTime(uploadedAt)
	return &f, nil
}
