package engine

import (
	"strconv"

	"github.com/Nileshshinde09/cortex/core/errors"
)

// Parameters lists the host parameters of the first statement in sql, in
// binding order. Entry i names parameter i+1: "" for an anonymous "?",
// "?NNN" for numbered parameters and the full token (":id", "@id", "$id")
// for named ones. Numbering follows the engine: "?" takes the next index,
// "?NNN" takes NNN, and a repeated name reuses its first index.
func Parameters(sql string) ([]string, error) {
	lex, err := sqlLexer.LexString("", sql)
	if err != nil {
		return nil, errors.New("prepare", errors.ERROR, err.Error())
	}
	var (
		names []string
		seen  = map[string]int{}
	)
	set := func(idx int, name string) {
		for len(names) < idx {
			names = append(names, "")
		}
		names[idx-1] = name
	}
	for {
		tok, err := lex.Next()
		if err != nil {
			return nil, errors.New("prepare", errors.ERROR, err.Error())
		}
		if tok.EOF() || tok.Type == tokSemi {
			break
		}
		if tok.Type != tokParam {
			continue
		}
		v := tok.Value
		switch {
		case v == "?":
			set(len(names)+1, "")
		case v[0] == '?':
			n, convErr := strconv.Atoi(v[1:])
			if convErr != nil || n < 1 || n > 32766 {
				return nil, errors.New("prepare", errors.RANGE, "variable number must be between ?1 and ?32766")
			}
			if idx, ok := seen[v]; ok {
				set(idx, v)
				continue
			}
			seen[v] = n
			set(n, v)
		default:
			if _, ok := seen[v]; ok {
				continue
			}
			idx := len(names) + 1
			seen[v] = idx
			set(idx, v)
		}
	}
	return names, nil
}
