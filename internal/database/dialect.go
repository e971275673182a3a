package database

import (
	"context"
	"database/sql"
	"strconv"
)

// Dialect はバックエンドごとのSQL方言の差分を吸収する。
// プレースホルダ表記、文字列集約、自動採番IDの取得方法、
// ドライバエラーの分類がバックエンドによって異なる。
type Dialect interface {
	// Name は方言名（"postgres" または "sqlite"）を返す。
	Name() string
	// DriverName はdatabase/sqlに登録されたドライバ名を返す。
	DriverName() string
	// Placeholder はn番目（1始まり）の引数のプレースホルダを返す。
	Placeholder(n int) string
	// GroupConcat はグループ内の値をsepで連結する集約式を返す。
	GroupConcat(expr, sep string) string

	insertReturningID(ctx context.Context, tx *sql.Tx, ins *Insert) (int64, error)
	classify(err error) error
}

// Postgres はPostgreSQL（lib/pq）の方言。
var Postgres Dialect = postgresDialect{}

// SQLite はSQLite（modernc.org/sqlite）の方言。
var SQLite Dialect = sqliteDialect{}

type postgresDialect struct{}

func (postgresDialect) Name() string       { return "postgres" }
func (postgresDialect) DriverName() string { return "postgres" }

func (postgresDialect) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func (postgresDialect) GroupConcat(expr, sep string) string {
	return "STRING_AGG(" + expr + ", " + quoteLiteral(sep) + ")"
}

// insertReturningID はRETURNING句で採番されたIDを受け取る。
// lib/pqはLastInsertIdをサポートしない。
func (d postgresDialect) insertReturningID(ctx context.Context, tx *sql.Tx, ins *Insert) (int64, error) {
	query, args := ins.statement().Raw(" RETURNING id").Render(d)
	var id int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string       { return "sqlite" }
func (sqliteDialect) DriverName() string { return "sqlite" }

func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) GroupConcat(expr, sep string) string {
	return "GROUP_CONCAT(" + expr + ", " + quoteLiteral(sep) + ")"
}

func (d sqliteDialect) insertReturningID(ctx context.Context, tx *sql.Tx, ins *Insert) (int64, error) {
	query, args := ins.statement().Render(d)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// quoteLiteral はSQL文字列リテラルとして単一引用符で囲む。
func quoteLiteral(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, s[i])
	}
	out = append(out, '\'')
	return string(out)
}
