package engine

import (
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
)

// sqlLexer splits SQL text into the handful of token classes statement
// completeness depends on. Rules are tried in order, so the Unterminated
// rule only fires when a literal, quoted name or comment never closes.
var sqlLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "comment", Pattern: `--[^\n]*|/\*(?s:.*?)\*/`},
	{Name: "whitespace", Pattern: `\s+`},
	{Name: "String", Pattern: `'(?:[^']|'')*'`},
	{Name: "Quoted", Pattern: `"(?:[^"]|"")*"|` + "`(?:[^`]|``)*`" + `|\[[^\]]*\]`},
	{Name: "Unterminated", Pattern: `/\*|['"` + "`" + `\[]`},
	{Name: "Semi", Pattern: `;`},
	{Name: "Param", Pattern: `\?\d*|[:@$][\p{L}\p{N}_]+`},
	{Name: "Ident", Pattern: `[\p{L}_][\p{L}\p{N}_$]*`},
	{Name: "Other", Pattern: `(?s:.)`},
})

var (
	tokSemi         = sqlLexer.Symbols()["Semi"]
	tokIdent        = sqlLexer.Symbols()["Ident"]
	tokUnterminated = sqlLexer.Symbols()["Unterminated"]
	tokParam        = sqlLexer.Symbols()["Param"]
)

// token classes of the completeness automaton
const (
	tkSemi = iota
	tkWS
	tkOther
	tkExplain
	tkCreate
	tkTemp
	tkTrigger
	tkEnd
)

// transitions[state][class]; state 1 means "ends a complete statement".
// States 4..7 track CREATE TRIGGER bodies, where only ";" after END
// finishes the statement.
var transitions = [8][8]uint8{
	/* 0 invalid */ {1, 0, 2, 3, 4, 2, 2, 2},
	/* 1 start   */ {1, 1, 2, 3, 4, 2, 2, 2},
	/* 2 normal  */ {1, 2, 2, 2, 2, 2, 2, 2},
	/* 3 explain */ {1, 3, 3, 2, 4, 2, 2, 2},
	/* 4 create  */ {1, 4, 2, 2, 2, 4, 5, 2},
	/* 5 trigger */ {6, 5, 5, 5, 5, 5, 5, 5},
	/* 6 semi    */ {6, 6, 5, 5, 5, 5, 5, 7},
	/* 7 end     */ {1, 7, 5, 5, 5, 5, 5, 5},
}

func keywordClass(word string) int {
	switch strings.ToUpper(word) {
	case "EXPLAIN":
		return tkExplain
	case "CREATE":
		return tkCreate
	case "TEMP", "TEMPORARY":
		return tkTemp
	case "TRIGGER":
		return tkTrigger
	case "END":
		return tkEnd
	}
	return tkOther
}

// Complete reports whether sql ends with a complete SQL statement: a
// semicolon outside string literals, quoted identifiers and comments, and
// for CREATE TRIGGER, a semicolon that follows the body's END.
func Complete(sql string) bool {
	lex, err := sqlLexer.LexString("", sql)
	if err != nil {
		return false
	}
	state := uint8(0)
	for {
		tok, err := lex.Next()
		if err != nil {
			return false
		}
		if tok.EOF() {
			break
		}
		class := tkOther
		switch tok.Type {
		case tokUnterminated:
			return false
		case tokSemi:
			class = tkSemi
		case tokIdent:
			class = keywordClass(tok.Value)
		}
		state = transitions[state][class]
	}
	return state == 1
}

// Split returns the first statement of sql, up to and including the
// semicolon that completes it, and the unparsed tail. ok is false when sql
// holds nothing but whitespace, comments and empty statements.
func Split(sql string) (first, tail string, ok bool) {
	lex, err := sqlLexer.LexString("", sql)
	if err != nil {
		return sql, "", strings.TrimSpace(sql) != ""
	}
	state := uint8(0)
	for {
		tok, err := lex.Next()
		if err != nil || tok.EOF() {
			return sql, "", ok
		}
		class := tkOther
		switch tok.Type {
		case tokUnterminated:
			return sql, "", true
		case tokSemi:
			class = tkSemi
		case tokIdent:
			class = keywordClass(tok.Value)
		}
		if class != tkSemi {
			ok = true
		}
		state = transitions[state][class]
		if class == tkSemi && state == 1 && ok {
			end := tok.Pos.Offset + len(tok.Value)
			return sql[:end], sql[end:], true
		}
	}
}
