package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"syscall"

	"github.com/lib/pq"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// classify はlib/pqのエラーをSQLSTATEで分類する。
func (postgresDialect) classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return wrapKind(ErrConflict, err)
		case pqErr.Code == "23503":
			return wrapKind(ErrNotFound, err)
		case pqErr.Code.Class() == "42":
			return wrapKind(ErrMisconfigured, err)
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "53", pqErr.Code.Class() == "57":
			return wrapKind(ErrUnavailable, err)
		}
		return err
	}
	if isTransportError(err) {
		return wrapKind(ErrUnavailable, err)
	}
	return err
}

// classify はmodernc.org/sqliteの拡張エラーコードで分類する。
func (sqliteDialect) classify(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		switch code {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return wrapKind(ErrConflict, err)
		case sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY:
			return wrapKind(ErrNotFound, err)
		}
		// 拡張コードの下位8ビットが基本コード
		switch code & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED, sqlite3lib.SQLITE_CANTOPEN,
			sqlite3lib.SQLITE_IOERR, sqlite3lib.SQLITE_READONLY, sqlite3lib.SQLITE_FULL:
			return wrapKind(ErrUnavailable, err)
		case sqlite3lib.SQLITE_ERROR:
			return wrapKind(ErrMisconfigured, err)
		}
		return err
	}
	if isTransportError(err) {
		return wrapKind(ErrUnavailable, err)
	}
	return err
}

// isTransportError は接続断・タイムアウトなどドライバに依らない到達不能エラーを判定する。
func isTransportError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// classifyUnavailable は接続確立やトランザクション開始の失敗を分類する。
// 既知の種別に該当しなければ到達不能として扱う。
func classifyUnavailable(d Dialect, err error) error {
	classified := d.classify(err)
	if ErrorKind(classified) != "other" {
		return classified
	}
	return wrapKind(ErrUnavailable, err)
}
