package prompts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"dublaj/internal/hashing"
	"dublaj/internal/logging"
	"dublaj/internal/services"
	"dublaj/internal/store"
)

// snapshotDirName holds one body file per registered version, so a run can
// still use a version's exact bytes after the live template file is edited.
const snapshotDirName = ".versions"

// Registry binds on-disk templates to their versioned records in the store.
type Registry struct {
	store  *store.Store
	dir    string
	logger *slog.Logger
}

// NewRegistry returns a registry reading templates from dir.
func NewRegistry(st *store.Store, dir string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{store: st, dir: dir, logger: logger}
}

// Load reads and parses the named template from the templates directory.
func (r *Registry) Load(name string) (*Template, error) {
	return LoadTemplate(r.dir, name)
}

// RegisterVersion loads the named template and registers its current body as a
// version. Registration is idempotent for unchanged bodies; the first version
// for a name becomes the default.
func (r *Registry) RegisterVersion(ctx context.Context, name string) (*store.PromptVersion, error) {
	tmpl, err := r.Load(name)
	if err != nil {
		return nil, err
	}

	record, err := r.store.RegisterPromptVersion(ctx, &store.PromptVersion{
		Name:         tmpl.Meta.Name,
		ContentHash:  tmpl.ContentHash,
		TemplatePath: tmpl.Path,
		Model:        tmpl.Meta.Model,
		Temperature:  tmpl.Meta.Temperature,
		MaxTokens:    tmpl.Meta.MaxTokens,
		Notes:        tmpl.Meta.Notes,
	})
	if err != nil {
		return nil, err
	}
	if err := r.snapshotVersion(record, tmpl.Body); err != nil {
		return nil, err
	}

	r.logger.Debug("prompt version registered",
		logging.String("prompt", record.Name),
		logging.Int("version", record.Version),
		logging.String("content_hash", record.ContentHash),
		logging.Bool("is_default", record.IsDefault))
	return record, nil
}

// GetDefault returns the default registered version for a prompt name.
func (r *Registry) GetDefault(ctx context.Context, name string) (*store.PromptVersion, error) {
	return r.store.DefaultPromptVersion(ctx, name)
}

// PromoteToDefault makes the given version the default for its prompt name.
func (r *Registry) PromoteToDefault(ctx context.Context, versionID int64) error {
	return r.store.PromoteDefault(ctx, versionID)
}

// GetHistory returns all registered versions of a prompt, newest first.
func (r *Registry) GetHistory(ctx context.Context, name string) ([]*store.PromptVersion, error) {
	return r.store.PromptHistory(ctx, name)
}

// CurrentDefault loads the template from disk, registers it if its body is
// new, and returns the default version record alongside the template whose
// body matches that record. An edited-but-unpromoted live file is registered
// as a candidate version; the run still uses the default's snapshotted bytes,
// so provenance names exactly the body that was sent.
func (r *Registry) CurrentDefault(ctx context.Context, name string) (*Template, *store.PromptVersion, error) {
	tmpl, err := r.Load(name)
	if err != nil {
		return nil, nil, err
	}
	if _, err := r.RegisterVersion(ctx, name); err != nil {
		return nil, nil, err
	}
	record, err := r.GetDefault(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	if tmpl.ContentHash != record.ContentHash {
		tmpl, err = r.versionTemplate(record)
		if err != nil {
			return nil, nil, err
		}
	}
	return tmpl, record, nil
}

func (r *Registry) snapshotPath(name string, version int) string {
	return filepath.Join(r.dir, snapshotDirName, fmt.Sprintf("%s.v%d.md", name, version))
}

// snapshotVersion persists the body of a registered version. Idempotent:
// an existing snapshot is left alone.
func (r *Registry) snapshotVersion(record *store.PromptVersion, body string) error {
	path := r.snapshotPath(record.Name, record.Version)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return services.Wrap(services.ErrIO, "", "snapshot prompt version", fmt.Sprintf("create %s", filepath.Dir(path)), err)
	}
	if err := renameio.WriteFile(path, []byte(body), 0o644); err != nil {
		return services.Wrap(services.ErrIO, "", "snapshot prompt version", fmt.Sprintf("write %s", path), err)
	}
	return nil
}

// versionTemplate reconstructs a registered version's template from its body
// snapshot and verifies the bytes against the recorded hash.
func (r *Registry) versionTemplate(record *store.PromptVersion) (*Template, error) {
	path := r.snapshotPath(record.Name, record.Version)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrIO, "", "load prompt version", fmt.Sprintf("read snapshot for %s v%d", record.Name, record.Version), err)
	}
	body := string(data)
	if hashing.HashString(body) != record.ContentHash {
		return nil, services.Wrap(services.ErrValidation, "", "load prompt version", fmt.Sprintf("snapshot for %s v%d does not match its registered hash", record.Name, record.Version), nil)
	}
	return &Template{
		Name: record.Name,
		Path: path,
		Meta: Metadata{
			Name:        record.Name,
			Model:       record.Model,
			Temperature: record.Temperature,
			MaxTokens:   record.MaxTokens,
			Notes:       record.Notes,
		},
		Body:        body,
		ContentHash: record.ContentHash,
	}, nil
}
