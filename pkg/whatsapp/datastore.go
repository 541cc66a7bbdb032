package whatsapp

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"go.mau.fi/whatsmeow/store/sqlstore"

	"github.com/aeonbot/aeon/pkg/env"
	"github.com/aeonbot/aeon/pkg/log"
)

// datastore wraps the whatsmeow credential store. The default is a sqlite
// file inside the session directory so a fresh pairing can wipe everything
// with one directory removal; postgres is available for shared deployments.
type datastore struct {
	container  *sqlstore.Container
	driver     string
	dsn        string
	sessionDir string
}

func openDatastore(ctx context.Context) (*datastore, error) {
	sessionDir := env.GetEnvStringOrDefault("BOT_SESSION_DIR", "./session")

	driver := normalizeDatastoreDriver(env.GetEnvStringOrDefault("BOT_DATASTORE_TYPE", "sqlite"))
	dsn := env.GetEnvStringOrDefault("BOT_DATASTORE_URI", "")
	dsn = normalizeDatastoreDSN(driver, dsn, sessionDir)

	if driver == "sqlite3" {
		if err := os.MkdirAll(sessionDir, 0o755); err != nil {
			return nil, err
		}
	}

	log.Print(nil).Info("Initializing credential datastore with driver=" + driver)

	container, err := sqlstore.New(ctx, driver, dsn, nil)
	if err != nil {
		return nil, err
	}

	return &datastore{
		container:  container,
		driver:     driver,
		dsn:        dsn,
		sessionDir: sessionDir,
	}, nil
}

func normalizeDatastoreDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pgx":
		return "pgx"
	default:
		return "sqlite3"
	}
}

func normalizeDatastoreDSN(driver string, dsn string, sessionDir string) string {
	if driver == "pgx" {
		return dsn
	}

	if dsn == "" {
		dsn = "file:" + filepath.Join(sessionDir, "credentials.db")
	}
	if !strings.Contains(dsn, "_foreign_keys") {
		if strings.Contains(dsn, "?") {
			dsn += "&_foreign_keys=on"
		} else {
			dsn += "?_foreign_keys=on"
		}
	}
	return dsn
}

// purge drops every stored credential. For sqlite the whole session
// directory goes away; for postgres each device row is deleted.
func (d *datastore) purge(ctx context.Context) error {
	if d.driver == "sqlite3" {
		if err := d.container.Close(); err != nil {
			log.Print(nil).Warn("Error closing datastore before purge: ", err)
		}
		if err := os.RemoveAll(d.sessionDir); err != nil {
			return err
		}
		log.Print(nil).Info("Session directory removed: " + d.sessionDir)
		return nil
	}

	devices, err := d.container.GetAllDevices(ctx)
	if err != nil {
		return err
	}
	for _, device := range devices {
		if err := d.container.DeleteDevice(ctx, device); err != nil {
			return err
		}
	}
	return nil
}
