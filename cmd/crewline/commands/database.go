package commands

import (
	"database/sql"

	"github.com/crewline/crewline/config"
	"github.com/crewline/crewline/db"
	"github.com/crewline/crewline/errors"
	"github.com/crewline/crewline/logger"
)

// openDatabase opens and migrates a database using the specified path.
// If dbPath is empty, it resolves the path from config. Uses
// logger.Logger for db operations.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		path, err := config.GetDatabasePath()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get database path")
		}
		if path == "" {
			dbPath = "crewline.db"
		} else {
			dbPath = path
		}
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}

	return database, nil
}

// resolveDatabasePath reports the path openDatabase would use, for
// banners and status output.
func resolveDatabasePath(override string) string {
	if override != "" {
		return override
	}
	path, err := config.GetDatabasePath()
	if err != nil || path == "" {
		return "crewline.db"
	}
	return path
}
