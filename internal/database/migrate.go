// Package database はデータベース接続とマイグレーション管理を提供する。
//
// MongoDBにはスキーマがないため、マイグレーションは各コレクションの
// インデックス（一意制約・照合順序・TTL・全文検索）を宣言するJSONコマンドで構成する。
package database

import (
	"embed"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mongodb"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.json
var migrationsFS embed.FS

// MigrationsCollection はマイグレーション履歴を保持するコレクション名。
const MigrationsCollection = "schema_migrations"

// MigrationURL は接続URIにデータベース名と履歴コレクションを付与した
// golang-migrate用のURLを返す。
func MigrationURL(uri, dbName string) (string, error) {
	if dbName == "" {
		return "", errors.New("database name is empty")
	}

	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("failed to parse mongodb uri: %w", err)
	}
	if u.Scheme != "mongodb" && u.Scheme != "mongodb+srv" {
		return "", fmt.Errorf("unsupported mongodb uri scheme: %q", u.Scheme)
	}

	u.Path = "/" + strings.TrimPrefix(dbName, "/")
	q := u.Query()
	q.Set("x-migrations-collection", MigrationsCollection)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
func NewMigrator(uri, dbName string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	dbURL, err := MigrationURL(uri, dbName)
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations はすべてのマイグレーションを適用する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(uri, dbName string) error {
	m, err := NewMigrator(uri, dbName)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
