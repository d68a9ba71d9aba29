package tools

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

//go:embed migration/*.sql
var migrationFiles embed.FS

func ConnectSqlite(filePath string, l logrus.FieldLogger) (*sql.DB, error) {
	db, err := connectWithBackoff("sqlite3", filePath, 3, l)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// RunMigrations applies every embedded migration in file name order.
// Migrations are written to be idempotent.
func RunMigrations(db *sql.DB) error {
	dirEntries, err := fs.ReadDir(migrationFiles, "migration")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(dirEntries))
	for _, entry := range dirEntries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		fileData, err := fs.ReadFile(migrationFiles, path.Join("migration", name))
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(fileData)); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return nil
}

func connectWithBackoff(driver string, connStr string, maxRetries int, l logrus.FieldLogger) (*sql.DB, error) {
	var db *sql.DB
	var err error
	for i := 0; i < maxRetries; i++ {
		db, err = sql.Open(driver, connStr)
		if err == nil {
			if err = db.Ping(); err == nil {
				return db, nil
			}
			db.Close()
		}
		l.WithError(err).Warnf("Failed attempt to connect to %s", driver)
		if i < maxRetries-1 {
			time.Sleep(time.Duration(i+1) * (3 * time.Second))
		}
	}
	return nil, err
}
