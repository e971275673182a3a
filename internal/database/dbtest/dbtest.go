// Package dbtest はテスト用にマイグレーション済みのデータベースを用意する。
package dbtest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hitoshi/seva/internal/database"
)

// NewSQLite は一時ディレクトリにSQLiteデータベースを作成し、マイグレーションを適用して返す。
// テスト終了時に自動でCloseされる。
func NewSQLite(t testing.TB) *database.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "seva-test.db")
	return open(t, path)
}

// NewPostgres はTEST_DATABASE_URLのPostgreSQLに接続して返す。
// 環境変数が未設定、または接続できない場合はテストをスキップする。
// テーブルはテスト開始時に空にされる。
func NewPostgres(t testing.TB) *database.DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	db, err := database.Open(url)
	if err != nil {
		t.Skipf("failed to open test database: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		db.Close()
		t.Skipf("test database is not reachable: %v", err)
	}
	db.Close()

	db = open(t, url)
	err = db.WithWriteUnitOfWork(context.Background(), func(uow *database.UnitOfWork) error {
		if _, err := uow.Exec(context.Background(), database.SQL(
			"TRUNCATE project_tags, projects, sessions, user_service_tags, service_tags, users RESTART IDENTITY CASCADE",
		)); err != nil {
			return err
		}
		return uow.Commit()
	})
	if err != nil {
		t.Fatalf("failed to reset test database: %v", err)
	}
	return db
}

// Each はSQLiteとPostgreSQLの両方でテスト関数を実行する。
// PostgreSQLは利用できない場合スキップされる。
func Each(t *testing.T, fn func(t *testing.T, db *database.DB)) {
	t.Run("sqlite", func(t *testing.T) {
		fn(t, NewSQLite(t))
	})
	t.Run("postgres", func(t *testing.T) {
		fn(t, NewPostgres(t))
	})
}

func open(t testing.TB, target string) *database.DB {
	t.Helper()

	if err := database.RunMigrations(target); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	db, err := database.Open(target)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
