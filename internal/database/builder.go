package database

import "strings"

type partKind int

const (
	partRaw partKind = iota
	partArg
	partGroupConcat
)

type part struct {
	kind partKind
	text string
	sep  string
}

// Statement は方言に依存しない形で組み立てるSQL文。
// 値はArg/Argsで渡し、SQL文字列に直接埋め込まない。
// プレースホルダ表記はRender時に方言に応じて決まる。
type Statement struct {
	parts []part
	args  []any
}

// SQL は生のSQL断片から文を開始する。
func SQL(text string) *Statement {
	return (&Statement{}).Raw(text)
}

// Raw はSQL断片をそのまま追加する。ユーザー入力を渡してはならない。
func (s *Statement) Raw(text string) *Statement {
	s.parts = append(s.parts, part{kind: partRaw, text: text})
	return s
}

// Arg は値をバインド引数として追加する。
func (s *Statement) Arg(v any) *Statement {
	s.parts = append(s.parts, part{kind: partArg})
	s.args = append(s.args, v)
	return s
}

// Args は値をカンマ区切りのバインド引数として追加する（IN句用）。
func (s *Statement) Args(vs ...any) *Statement {
	for i, v := range vs {
		if i > 0 {
			s.Raw(", ")
		}
		s.Arg(v)
	}
	return s
}

// GroupConcat はグループ内の値をsepで連結する集約式を追加する。
func (s *Statement) GroupConcat(expr, sep string) *Statement {
	s.parts = append(s.parts, part{kind: partGroupConcat, text: expr, sep: sep})
	return s
}

// Render は方言に応じたSQL文字列と引数列を返す。
func (s *Statement) Render(d Dialect) (string, []any) {
	var b strings.Builder
	n := 0
	for _, p := range s.parts {
		switch p.kind {
		case partRaw:
			b.WriteString(p.text)
		case partArg:
			n++
			b.WriteString(d.Placeholder(n))
		case partGroupConcat:
			b.WriteString(d.GroupConcat(p.text, p.sep))
		}
	}
	args := make([]any, len(s.args))
	copy(args, s.args)
	return b.String(), args
}

// Insert は単一行のINSERT文。
type Insert struct {
	table   string
	columns []string
	values  []any
}

// InsertInto はtableへのINSERT文を開始する。
func InsertInto(table string) *Insert {
	return &Insert{table: table}
}

// Set は列と値の組を追加する。
func (i *Insert) Set(column string, value any) *Insert {
	i.columns = append(i.columns, column)
	i.values = append(i.values, value)
	return i
}

func (i *Insert) statement() *Statement {
	s := SQL("INSERT INTO " + i.table + " (" + strings.Join(i.columns, ", ") + ") VALUES (")
	s.Args(i.values...)
	return s.Raw(")")
}

// Int64s は[]int64をArgsに渡せる[]anyに変換する。
func Int64s(vs []int64) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

// NullIfEmpty は空文字列をNULLとして格納するための値を返す。
func NullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
