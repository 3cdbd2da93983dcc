package engine

import "strings"

var (
	tokString = sqlLexer.Symbols()["String"]
	tokQuoted = sqlLexer.Symbols()["Quoted"]
)

// Words returns up to n significant tokens from the start of the first
// statement in sql, skipping whitespace and comments. Names are unquoted
// and upper-cased so keywords compare directly; punctuation is returned as
// written. Words stops at the statement's semicolon.
func Words(sql string, n int) []string {
	lex, err := sqlLexer.LexString("", sql)
	if err != nil {
		return nil
	}
	var words []string
	for len(words) < n {
		tok, err := lex.Next()
		if err != nil || tok.EOF() {
			break
		}
		switch tok.Type {
		case tokSemi, tokUnterminated:
			return words
		case tokIdent:
			words = append(words, strings.ToUpper(tok.Value))
		case tokQuoted, tokString:
			words = append(words, strings.ToUpper(unquote(tok.Value)))
		default:
			words = append(words, tok.Value)
		}
	}
	return words
}

func unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	switch s[0] {
	case '[':
		return s[1 : len(s)-1]
	case '"', '\'', '`':
		q := s[:1]
		return strings.ReplaceAll(s[1:len(s)-1], q+q, q)
	}
	return s
}

// Statements calls fn with each statement of sql in order until fn
// returns false.
func Statements(sql string, fn func(stmt string) bool) {
	for {
		stmt, tail, ok := Split(sql)
		if !ok || !fn(stmt) || tail == "" {
			return
		}
		sql = tail
	}
}
