// Package database はPostgreSQLとSQLiteの両方に対応するデータアクセス層を提供する。
// 呼び出し側は方言に依存しないStatementを組み立て、UnitOfWork経由で実行する。
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// sqlitePragmas はSQLite接続ごとに適用するプラグマ。
// 外部キー制約の有効化、ロック待ち、WALを設定する。トランザクションはDEFERREDで開始する。
const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// sqliteWriteLock は書き込み用の接続に付与するオプション。
// BEGIN IMMEDIATEで開始し、書き込みロックをbusy_timeoutの範囲で待つ。
const sqliteWriteLock = "&_txlock=immediate"

// Target は接続先の解析結果。
type Target struct {
	Dialect Dialect
	// DSN はsql.Openに渡すデータソース名。
	DSN string
	// WriteDSN は書き込み用の接続に使うデータソース名。DSNと同じ場合は接続プールを共有する。
	WriteDSN string
	// MigrateURL はgolang-migrateに渡すURL。
	MigrateURL string
}

// ParseTarget は接続先文字列から方言を判定する。
// "postgres://" または "postgresql://" で始まる場合はPostgreSQL、
// "sqlite://"、"file:" で始まる場合やスキームのないパスはSQLiteとして扱う。
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("%w: empty database target", ErrMisconfigured)
	}

	switch {
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return Target{Dialect: Postgres, DSN: raw, WriteDSN: raw, MigrateURL: raw}, nil
	case strings.HasPrefix(raw, "sqlite://"):
		return sqliteTarget(strings.TrimPrefix(raw, "sqlite://"))
	case strings.HasPrefix(raw, "file:"):
		return sqliteTarget(strings.TrimPrefix(raw, "file:"))
	case strings.Contains(raw, "://"):
		return Target{}, fmt.Errorf("%w: unsupported database scheme in %q", ErrMisconfigured, raw)
	default:
		return sqliteTarget(raw)
	}
}

func sqliteTarget(path string) (Target, error) {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return Target{}, fmt.Errorf("%w: empty sqlite path", ErrMisconfigured)
	}
	return Target{
		Dialect:    SQLite,
		DSN:        path + "?" + sqlitePragmas,
		WriteDSN:   path + "?" + sqlitePragmas + sqliteWriteLock,
		MigrateURL: "sqlite://" + path + "?" + sqlitePragmas,
	}, nil
}

// DB は接続プールと方言を保持する。UnitOfWorkの生成元となる。
// SQLiteでは読み取り用と書き込み用の2つのプールを持ち、
// 読み取りだけのUnitOfWorkが書き込みロックを取らないようにする。
type DB struct {
	sqlDB    *sql.DB
	writeDB  *sql.DB
	dialect  Dialect
	observer func(kind string)
}

// Open は接続先文字列から方言を判定してデータベースを開く。
// sql.Openは接続を試行しないため、到達確認にはPingまたはHealthCheckを使用すること。
func Open(raw string) (*DB, error) {
	target, err := ParseTarget(raw)
	if err != nil {
		return nil, err
	}

	sqlDB, err := openPool(target.Dialect, target.DSN)
	if err != nil {
		return nil, err
	}
	db := New(sqlDB, target.Dialect)

	if target.WriteDSN != "" && target.WriteDSN != target.DSN {
		writeDB, err := openPool(target.Dialect, target.WriteDSN)
		if err != nil {
			sqlDB.Close()
			return nil, err
		}
		db.writeDB = writeDB
	}
	return db, nil
}

func openPool(dialect Dialect, dsn string) (*sql.DB, error) {
	sqlDB, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == SQLite {
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return sqlDB, nil
}

// New は既存の*sql.DBから方言を指定してDBを生成する。読み書きで同じプールを使う。
func New(sqlDB *sql.DB, dialect Dialect) *DB {
	return &DB{sqlDB: sqlDB, writeDB: sqlDB, dialect: dialect}
}

// SetErrorObserver はエラー種別ごとの通知先を設定する（メトリクス計測用）。
// UnitOfWorkを生成する前に呼び出すこと。
func (db *DB) SetErrorObserver(fn func(kind string)) {
	db.observer = fn
}

// Dialect は方言を返す。
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Begin は新しいUnitOfWorkを返す。接続はまだ確保しない。
// 最初の文が書き込みであれば書き込み用の接続を使う。
// 呼び出し側は必ずCloseすること。
func (db *DB) Begin() *UnitOfWork {
	return &UnitOfWork{db: db.sqlDB, writeDB: db.writeDB, dialect: db.dialect, observer: db.observer}
}

// BeginWrite は書き込みを前提としたUnitOfWorkを返す。
// 読み取りから始まる場合も最初から書き込み用の接続を使う。
func (db *DB) BeginWrite() *UnitOfWork {
	uow := db.Begin()
	uow.write = true
	return uow
}

// WithUnitOfWork はfnの実行範囲に閉じたUnitOfWorkを提供する。
// fnがエラーを返した場合やパニックした場合もCloseされ、未確定の変更は破棄される。
// 読み取りだけのfnは他のUnitOfWorkを待たない。
func (db *DB) WithUnitOfWork(ctx context.Context, fn func(uow *UnitOfWork) error) error {
	return runUnitOfWork(db.Begin(), fn)
}

// WithWriteUnitOfWork は書き込みを行うfnのためのUnitOfWorkを提供する。
// SQLiteでは開始時に書き込みロックを取り、読み取り後の昇格で失敗しないようにする。
func (db *DB) WithWriteUnitOfWork(ctx context.Context, fn func(uow *UnitOfWork) error) error {
	return runUnitOfWork(db.BeginWrite(), fn)
}

func runUnitOfWork(uow *UnitOfWork, fn func(uow *UnitOfWork) error) (err error) {
	defer func() {
		if cerr := uow.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(uow)
}

// Ping はバックエンドへの到達性を確認する。
func (db *DB) Ping(ctx context.Context) error {
	if err := db.sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", classifyUnavailable(db.dialect, err))
	}
	return nil
}

// HealthCheck は自明な読み取りを1件実行してバックエンドの健全性を確認する。
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.WithUnitOfWork(ctx, func(uow *UnitOfWork) error {
		_, err := uow.Query(ctx, SQL("SELECT 1 AS ok"))
		return err
	})
}

// Close は接続プールを閉じる。
func (db *DB) Close() error {
	err := db.sqlDB.Close()
	if db.writeDB != nil && db.writeDB != db.sqlDB {
		err = errors.Join(err, db.writeDB.Close())
	}
	return err
}
