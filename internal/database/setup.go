package database

import (
	"fmt"

	"serverlist-backend/internal/models"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

func setPragmaValues(db *sqlx.DB) error {
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return err
	}

	// these next 2 extremely speed up performance of sqlite
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return err
	}

	if _, err := db.Exec("PRAGMA synchronous = normal"); err != nil {
		return err
	}

	return nil
}

func readPragmaValues(db *sqlx.DB, sugar *zap.SugaredLogger) error {
	var foreignKeysValue bool
	if err := db.Get(&foreignKeysValue, "PRAGMA foreign_keys"); err != nil {
		return err
	}

	var journalModeValue string
	if err := db.Get(&journalModeValue, "PRAGMA journal_mode"); err != nil {
		return err
	}

	var synchronousValue int
	if err := db.Get(&synchronousValue, "PRAGMA synchronous"); err != nil {
		return err
	}

	var synchronousValueStr string
	switch synchronousValue {
	case 0:
		synchronousValueStr = "off"
	case 1:
		synchronousValueStr = "normal"
	case 2:
		synchronousValueStr = "full"
	case 3:
		synchronousValueStr = "extra"
	default:
		return fmt.Errorf("synchronous value is unsupported")
	}

	sugar.Infow("sqlite pragmas",
		"foreign_keys", foreignKeysValue,
		"journal_mode", journalModeValue,
		"synchronous", synchronousValueStr,
	)

	return nil
}

func dataSourceName(cfg *models.ConfigFile) (string, string, error) {
	switch cfg.DbDriver {
	case "", "mysql":
		return "mysql", fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&timeout=10s", cfg.DbUser, cfg.DbPassword, cfg.DbAddress, cfg.DbPort, cfg.DbDatabase), nil
	case "postgres":
		return "postgres", fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", cfg.DbAddress, cfg.DbPort, cfg.DbUser, cfg.DbPassword, cfg.DbDatabase), nil
	default:
		return "", "", fmt.Errorf("unsupported database driver [%s]", cfg.DbDriver)
	}
}

// Setup connects to sqlite when self contained, otherwise to mysql or
// postgres, and makes sure every table exists.
func Setup(cfg *models.ConfigFile, sugar *zap.SugaredLogger) (*sqlx.DB, error) {
	var db *sqlx.DB
	var err error

	if cfg.SelfContained {
		sugar.Info("Connecting to database sqlite...")

		db, err = OpenSqlite("./database.db", sugar)
		if err != nil {
			return nil, err
		}
	} else {
		driver, dsn, err := dataSourceName(cfg)
		if err != nil {
			return nil, err
		}

		sugar.Infof("Connecting to database %s...", driver)

		db, err = sqlx.Open(driver, dsn)
		if err != nil {
			return nil, err
		}

		maxOpenConns := cfg.DbMaxOpenConns
		if maxOpenConns <= 0 {
			maxOpenConns = 10
		}
		db.SetMaxOpenConns(maxOpenConns)

		if err := db.Ping(); err != nil {
			return nil, err
		}
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// OpenSqlite is also used by tests with ":memory:".
func OpenSqlite(path string, sugar *zap.SugaredLogger) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// there can be sqlite busy errors if this is not set to 1
	db.SetMaxOpenConns(1)

	if err := setPragmaValues(db); err != nil {
		return nil, err
	}

	if err := readPragmaValues(db, sugar); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates any missing table.
func Migrate(db *sqlx.DB) error {
	for _, statement := range tables {
		if _, err := db.Exec(statement); err != nil {
			return err
		}
	}
	return nil
}

// only types every supported dialect understands
var tables = []string{
	`CREATE TABLE IF NOT EXISTS files (
		hash_value VARCHAR(64) PRIMARY KEY,
		file_path TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY,
		username VARCHAR(32) NOT NULL UNIQUE,
		email VARCHAR(64) NOT NULL UNIQUE,
		display_name VARCHAR(64) NOT NULL,
		hashed_password VARCHAR(60) NOT NULL,
		role VARCHAR(16) NOT NULL DEFAULT 'user',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at BIGINT NOT NULL,
		last_login BIGINT,
		last_login_ip VARCHAR(64),
		avatar_hash_id VARCHAR(64)
	)`,
	`CREATE TABLE IF NOT EXISTS gallery (
		id BIGINT PRIMARY KEY,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS servers (
		id BIGINT PRIMARY KEY,
		name VARCHAR(64) NOT NULL,
		ip VARCHAR(255) NOT NULL,
		type VARCHAR(50) NOT NULL,
		version VARCHAR(32) NOT NULL,
		description TEXT NOT NULL,
		link TEXT NOT NULL,
		is_member BOOLEAN NOT NULL DEFAULT FALSE,
		is_hide BOOLEAN NOT NULL DEFAULT FALSE,
		auth_mode VARCHAR(50) NOT NULL,
		tags TEXT,
		cover_hash_id VARCHAR(64),
		gallery_id BIGINT,
		FOREIGN KEY (gallery_id) REFERENCES gallery(id) ON DELETE SET NULL
	)`,
	`CREATE TABLE IF NOT EXISTS server_stats (
		id BIGINT PRIMARY KEY,
		server_id BIGINT NOT NULL,
		stat_data TEXT,
		timestamp BIGINT NOT NULL,
		FOREIGN KEY (server_id) REFERENCES servers(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS user_server (
		user_id BIGINT NOT NULL,
		server_id BIGINT NOT NULL,
		role VARCHAR(16) NOT NULL,
		PRIMARY KEY (user_id, server_id),
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (server_id) REFERENCES servers(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS gallery_image (
		id BIGINT PRIMARY KEY,
		gallery_id BIGINT NOT NULL,
		title VARCHAR(64) NOT NULL,
		description TEXT NOT NULL,
		image_hash_id VARCHAR(64) NOT NULL,
		FOREIGN KEY (gallery_id) REFERENCES gallery(id) ON DELETE CASCADE
	)`,
}
