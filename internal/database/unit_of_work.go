package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UnitOfWork は1リクエスト（または1ジョブ）分のデータアクセスの単位。
// 接続とトランザクションは最初の文の実行時に遅延して確保され、
// Closeで解放される。Commitされていない変更はCloseで破棄される。
// SQLiteでは読み取りから始まるUnitOfWorkは書き込みロックを取らない。
// UnitOfWorkはゴルーチン間で共有しないこと。
type UnitOfWork struct {
	db       *sql.DB
	writeDB  *sql.DB
	dialect  Dialect
	observer func(kind string)
	write    bool

	conn   *sql.Conn
	tx     *sql.Tx
	closed bool
}

// Dialect はこのUnitOfWorkが使用する方言を返す。
func (u *UnitOfWork) Dialect() Dialect {
	return u.dialect
}

// Query は文を実行し、全行をRowとして返す。
func (u *UnitOfWork) Query(ctx context.Context, stmt *Statement) ([]Row, error) {
	tx, err := u.begin(ctx, false)
	if err != nil {
		return nil, err
	}

	query, args := stmt.Render(u.dialect)
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, u.fail("query", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, u.fail("query columns", err)
	}

	var result []Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, u.fail("scan", err)
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, u.fail("iterate rows", err)
	}
	return result, nil
}

// QueryOne は先頭行を返す。該当行がない場合はnil, nilを返す。
func (u *UnitOfWork) QueryOne(ctx context.Context, stmt *Statement) (Row, error) {
	rows, err := u.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Exec は結果行を返さない文を実行し、影響行数を返す。
func (u *UnitOfWork) Exec(ctx context.Context, stmt *Statement) (int64, error) {
	tx, err := u.begin(ctx, true)
	if err != nil {
		return 0, err
	}

	query, args := stmt.Render(u.dialect)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, u.fail("exec", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, u.fail("rows affected", err)
	}
	return affected, nil
}

// InsertReturningID は1行を挿入し、採番されたidを返す。
func (u *UnitOfWork) InsertReturningID(ctx context.Context, ins *Insert) (int64, error) {
	tx, err := u.begin(ctx, true)
	if err != nil {
		return 0, err
	}

	id, err := u.dialect.insertReturningID(ctx, tx, ins)
	if err != nil {
		return 0, u.fail("insert into "+ins.table, err)
	}
	return id, nil
}

// Commit はこれまでの変更を確定する。未実行の変更がなければ何もしない。
// Commit後も同じUnitOfWorkで続けて文を実行でき、新しいトランザクションが開始される。
func (u *UnitOfWork) Commit() error {
	if u.closed {
		return ErrClosed
	}
	if u.tx == nil {
		return nil
	}
	tx := u.tx
	u.tx = nil
	if err := tx.Commit(); err != nil {
		return u.fail("commit", err)
	}
	return nil
}

// Close は未確定の変更をロールバックし、接続をプールに返す。
// 複数回呼び出しても安全。
func (u *UnitOfWork) Close() error {
	if u.closed {
		return nil
	}
	u.closed = true

	var errs []error
	if u.tx != nil {
		if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, u.fail("rollback", err))
		}
		u.tx = nil
	}
	if u.conn != nil {
		if err := u.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			errs = append(errs, u.fail("release connection", err))
		}
		u.conn = nil
	}
	return errors.Join(errs...)
}

// begin は必要に応じて接続とトランザクションを確保する。
// 接続は最初の文で決まり、書き込み意図があれば書き込み用のプールから取る。
func (u *UnitOfWork) begin(ctx context.Context, writing bool) (*sql.Tx, error) {
	if u.closed {
		return nil, ErrClosed
	}
	if u.tx != nil {
		return u.tx, nil
	}
	if u.conn == nil {
		pool := u.db
		if (u.write || writing) && u.writeDB != nil {
			pool = u.writeDB
		}
		conn, err := pool.Conn(ctx)
		if err != nil {
			return nil, u.observe(fmt.Errorf("acquire connection: %w", classifyUnavailable(u.dialect, err)))
		}
		u.conn = conn
	}
	tx, err := u.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, u.observe(fmt.Errorf("begin transaction: %w", classifyUnavailable(u.dialect, err)))
	}
	u.tx = tx
	return tx, nil
}

func (u *UnitOfWork) fail(op string, err error) error {
	return u.observe(fmt.Errorf("%s: %w", op, u.dialect.classify(err)))
}

func (u *UnitOfWork) observe(err error) error {
	if u.observer != nil {
		u.observer(ErrorKind(err))
	}
	return err
}
