package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dublaj/internal/services"
)

const promptColumns = "id, name, version, content_hash, template_path, model, temperature, max_tokens, is_default, created_at, notes"

// RegisterPromptVersion records a prompt template revision. When a record with
// the same (name, content_hash) already exists it is returned unchanged, so
// repeated registration of an unchanged body is idempotent. The first version
// registered for a name becomes the default.
func (s *Store) RegisterPromptVersion(ctx context.Context, pv *PromptVersion) (*PromptVersion, error) {
	if pv == nil {
		return nil, errors.New("prompt version is nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin prompt registration tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(
		ctx,
		`SELECT `+promptColumns+` FROM prompt_versions WHERE name = ? AND content_hash = ?`,
		pv.Name,
		pv.ContentHash,
	)
	existing, err := scanPromptVersion(row)
	if err == nil {
		return existing, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find prompt version: %w", err)
	}

	var maxVersion sql.NullInt64
	row = tx.QueryRowContext(ctx, `SELECT MAX(version) FROM prompt_versions WHERE name = ?`, pv.Name)
	if err := row.Scan(&maxVersion); err != nil {
		return nil, fmt.Errorf("max prompt version: %w", err)
	}

	pv.Version = 1
	pv.IsDefault = !maxVersion.Valid
	if maxVersion.Valid {
		pv.Version = int(maxVersion.Int64) + 1
	}
	pv.CreatedAt = time.Now().UTC()

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO prompt_versions (
            name, version, content_hash, template_path, model, temperature,
            max_tokens, is_default, created_at, notes
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pv.Name,
		pv.Version,
		pv.ContentHash,
		nullableString(pv.TemplatePath),
		nullableString(pv.Model),
		pv.Temperature,
		pv.MaxTokens,
		boolToInt(pv.IsDefault),
		formatTime(pv.CreatedAt),
		nullableString(pv.Notes),
	)
	if err != nil {
		return nil, fmt.Errorf("insert prompt version: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	pv.ID = id

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit prompt registration: %w", err)
	}
	return pv, nil
}

// DefaultPromptVersion returns the record flagged as default for a prompt name.
func (s *Store) DefaultPromptVersion(ctx context.Context, name string) (*PromptVersion, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+promptColumns+` FROM prompt_versions WHERE name = ? AND is_default = 1`,
		name,
	)
	pv, err := scanPromptVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "", "default prompt", fmt.Sprintf("no default version for prompt %q", name), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get default prompt version: %w", err)
	}
	return pv, nil
}

// PromptVersionByID fetches a registered prompt version by identifier.
func (s *Store) PromptVersionByID(ctx context.Context, id int64) (*PromptVersion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+promptColumns+` FROM prompt_versions WHERE id = ?`, id)
	pv, err := scanPromptVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "", "prompt version", fmt.Sprintf("prompt version %d not found", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get prompt version: %w", err)
	}
	return pv, nil
}

// PromoteDefault flips the default flag to the given version within one
// transaction: all versions of the prompt are cleared, then the target is set.
func (s *Store) PromoteDefault(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin promote tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `SELECT name FROM prompt_versions WHERE id = ?`, id)
	var name string
	if err := row.Scan(&name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return services.Wrap(services.ErrNotFound, "", "promote prompt", fmt.Sprintf("prompt version %d not found", id), nil)
		}
		return fmt.Errorf("find prompt version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE prompt_versions SET is_default = 0 WHERE name = ?`, name); err != nil {
		return fmt.Errorf("clear default flags: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE prompt_versions SET is_default = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("set default flag: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit promote: %w", err)
	}
	return nil
}

// PromptHistory returns all registered versions for a name, newest first.
func (s *Store) PromptHistory(ctx context.Context, name string) ([]*PromptVersion, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+promptColumns+` FROM prompt_versions WHERE name = ? ORDER BY version DESC`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("prompt history: %w", err)
	}
	defer rows.Close()

	var versions []*PromptVersion
	for rows.Next() {
		pv, err := scanPromptVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, pv)
	}
	return versions, rows.Err()
}

// PromptNames returns all distinct registered prompt names.
func (s *Store) PromptNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT name FROM prompt_versions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("prompt names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func scanPromptVersion(scanner interface{ Scan(dest ...any) error }) (*PromptVersion, error) {
	var (
		id           int64
		name         string
		version      int
		contentHash  string
		templatePath sql.NullString
		model        sql.NullString
		temperature  float64
		maxTokens    int
		isDefault    int
		createdRaw   sql.NullString
		notes        sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&name,
		&version,
		&contentHash,
		&templatePath,
		&model,
		&temperature,
		&maxTokens,
		&isDefault,
		&createdRaw,
		&notes,
	); err != nil {
		return nil, err
	}

	pv := &PromptVersion{
		ID:           id,
		Name:         name,
		Version:      version,
		ContentHash:  contentHash,
		TemplatePath: templatePath.String,
		Model:        model.String,
		Temperature:  temperature,
		MaxTokens:    maxTokens,
		IsDefault:    isDefault != 0,
		Notes:        notes.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		pv.CreatedAt = created
	}
	return pv, nil
}
