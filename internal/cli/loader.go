package cli

import (
	"os"
	"path/filepath"

	"github.com/roach88/fegate/internal/authcode"
	"github.com/roach88/fegate/internal/config"
	"github.com/roach88/fegate/internal/engine"
	"github.com/roach88/fegate/internal/schema"
	"github.com/roach88/fegate/internal/store"
	"github.com/roach88/fegate/internal/upload"
)

// loadConfig reads the CUE document and returns the engine configuration
// plus the table registry.
func loadConfig(path string) (*config.Config, *schema.Registry, error) {
	cfg, reg, err := config.LoadDocumentFile(path)
	if err != nil {
		return nil, nil, &ExitError{Code: ExitCommandError, Message: "loading configuration", Err: err}
	}
	return cfg, reg, nil
}

// openEngine assembles a full engine over a SQLite database. The encryption
// key comes from the FEGATE_ENCRYPTION_KEY environment variable; uploads
// live next to the database unless overridden.
func openEngine(cfg *config.Config, reg *schema.Registry, dbPath, uploadDir string) (*engine.Engine, *store.Store, error) {
	st, err := store.Open(dbPath, reg)
	if err != nil {
		return nil, nil, &ExitError{Code: ExitCommandError, Message: "opening database", Err: err}
	}

	tokens := authcode.New(cfg.AuthCode, authcode.StaticSecret(os.Getenv("FEGATE_ENCRYPTION_KEY")), nil)
	eng := engine.New(cfg, reg, st, tokens, nil)

	if uploadDir == "" {
		uploadDir = filepath.Join(filepath.Dir(dbPath), "uploads")
	}
	eng.Uploads = upload.New(os.TempDir(), uploadDir, nil)

	return eng, st, nil
}
