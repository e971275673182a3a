package database

import (
	"fmt"
	"strconv"
	"time"
)

// Row はクエリ結果の1行。列名から値を引く。
// NULLはnilとして格納され、[]byteは文字列に正規化される。
type Row map[string]any

// String は列の値を文字列として返す。NULLまたは列が存在しない場合は空文字列。
func (r Row) String(column string) string {
	switch v := r[column].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

// Int64 は列の値を整数として返す。NULLや変換不能な値は0。
func (r Row) Int64(column string) int64 {
	switch v := r[column].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(string(v), 10, 64)
		return n
	default:
		return 0
	}
}

// Bool は列の値を真偽値として返す。
func (r Row) Bool(column string) bool {
	switch v := r[column].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	default:
		return false
	}
}

// Time はUnixミリ秒で格納された列をtime.Timeとして返す。
// NULLの場合はゼロ値を返す。
func (r Row) Time(column string) time.Time {
	if r[column] == nil {
		return time.Time{}
	}
	return FromMillis(r.Int64(column))
}

// ToMillis は時刻をUnixミリ秒に変換する。タイムスタンプは両方言ともBIGINTで保存する。
func ToMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// FromMillis はUnixミリ秒をUTCの時刻に変換する。
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
