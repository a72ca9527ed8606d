// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package identity

import (
	"fmt"
	"strings"
	"unicode"

	"rowdeck/cli/internal/result"
)

type tokKind uint8

const (
	tokWord tokKind = iota
	tokQuoted
	tokString
	tokNumber
	tokPunct
)

type token struct {
	kind  tokKind
	text  string
	depth int
}

func (t token) is(kw string) bool { return t.kind == tokWord && strings.EqualFold(t.text, kw) }

// tokenize splits SQL into words, quoted identifiers, literals and punctuation,
// dropping comments and recording parenthesis depth.
func tokenize(sql string) []token {
	var out []token
	rs := []rune(sql)
	depth := 0
	for i := 0; i < len(rs); {
		ch := rs[i]
		switch {
		case unicode.IsSpace(ch):
			i++
		case ch == '-' && i+1 < len(rs) && rs[i+1] == '-':
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
		case ch == '/' && i+1 < len(rs) && rs[i+1] == '*':
			i += 2
			for i+1 < len(rs) && !(rs[i] == '*' && rs[i+1] == '/') {
				i++
			}
			i += 2
		case ch == '\'' || ch == '"':
			quote := ch
			var b strings.Builder
			i++
			for i < len(rs) {
				if rs[i] == quote {
					if i+1 < len(rs) && rs[i+1] == quote {
						b.WriteRune(quote)
						i += 2
						continue
					}
					i++
					break
				}
				b.WriteRune(rs[i])
				i++
			}
			kind := tokString
			if quote == '"' {
				kind = tokQuoted
			}
			out = append(out, token{kind: kind, text: b.String(), depth: depth})
		case ch == '_' || unicode.IsLetter(ch):
			start := i
			for i < len(rs) && (rs[i] == '_' || rs[i] == '$' || unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i])) {
				i++
			}
			out = append(out, token{kind: tokWord, text: string(rs[start:i]), depth: depth})
		case unicode.IsDigit(ch):
			start := i
			for i < len(rs) && (unicode.IsDigit(rs[i]) || rs[i] == '.') {
				i++
			}
			out = append(out, token{kind: tokNumber, text: string(rs[start:i]), depth: depth})
		default:
			if ch == ')' {
				depth--
			}
			out = append(out, token{kind: tokPunct, text: string(ch), depth: depth})
			if ch == '(' {
				depth++
			}
			i++
		}
	}
	return out
}

var (
	// any of these at the top level means rows do not map to one relation
	multiRelation = map[string]string{
		"join":      "joins",
		"union":     "set operations",
		"intersect": "set operations",
		"except":    "set operations",
		"group":     "grouped results",
		"having":    "grouped results",
		"window":    "window clauses",
	}
	aggregates = map[string]bool{
		"count": true, "sum": true, "avg": true, "min": true, "max": true,
		"array_agg": true, "string_agg": true, "json_agg": true, "jsonb_agg": true,
		"json_object_agg": true, "jsonb_object_agg": true, "bool_and": true, "bool_or": true,
		"every": true, "bit_and": true, "bit_or": true,
	}
	afterFrom = map[string]bool{
		"where": true, "order": true, "limit": true, "offset": true, "fetch": true, "for": true,
	}
)

// AnalyzeSelect returns the single relation a simple SELECT reads from.
// Anything that could make a result row correspond to zero or several
// server rows is rejected with a reason.
func AnalyzeSelect(sql string) (result.Relation, error) {
	toks := tokenize(sql)
	for len(toks) > 0 && toks[len(toks)-1].kind == tokPunct && toks[len(toks)-1].text == ";" {
		toks = toks[:len(toks)-1]
	}
	if len(toks) == 0 {
		return result.Relation{}, fmt.Errorf("empty statement")
	}
	if toks[0].is("with") {
		return result.Relation{}, fmt.Errorf("common table expressions are not editable")
	}
	if !toks[0].is("select") {
		return result.Relation{}, fmt.Errorf("only SELECT results are editable")
	}
	if len(toks) > 1 && toks[1].is("distinct") {
		return result.Relation{}, fmt.Errorf("DISTINCT results are not editable")
	}

	from := -1
	for i, t := range toks {
		if t.depth != 0 {
			continue
		}
		if t.kind == tokPunct && t.text == ";" {
			return result.Relation{}, fmt.Errorf("multiple statements are not editable")
		}
		if t.kind != tokWord {
			continue
		}
		if what, bad := multiRelation[strings.ToLower(t.text)]; bad {
			return result.Relation{}, fmt.Errorf("%s are not editable", what)
		}
		if from < 0 {
			if t.is("from") {
				from = i
				continue
			}
			if aggregates[strings.ToLower(t.text)] && i+1 < len(toks) && toks[i+1].text == "(" {
				return result.Relation{}, fmt.Errorf("aggregate results are not editable")
			}
		}
	}
	if from < 0 {
		return result.Relation{}, fmt.Errorf("statement has no FROM clause")
	}

	i := from + 1
	if i < len(toks) && toks[i].is("only") {
		i++
	}
	if i >= len(toks) {
		return result.Relation{}, fmt.Errorf("statement has no relation")
	}
	if toks[i].kind == tokPunct && toks[i].text == "(" {
		return result.Relation{}, fmt.Errorf("subqueries are not editable")
	}
	if toks[i].is("lateral") {
		return result.Relation{}, fmt.Errorf("lateral relations are not editable")
	}

	var parts []string
	for i < len(toks) {
		t := toks[i]
		switch t.kind {
		case tokQuoted:
			parts = append(parts, t.text)
		case tokWord:
			parts = append(parts, strings.ToLower(t.text))
		default:
			return result.Relation{}, fmt.Errorf("unexpected %q after FROM", t.text)
		}
		i++
		if i < len(toks) && toks[i].kind == tokPunct && toks[i].text == "." {
			i++
			continue
		}
		break
	}
	if i < len(toks) && toks[i].kind == tokPunct && toks[i].text == "(" {
		return result.Relation{}, fmt.Errorf("set-returning functions are not editable")
	}

	// optional alias
	if i < len(toks) && toks[i].is("as") {
		i += 2
	} else if i < len(toks) && (toks[i].kind == tokQuoted || (toks[i].kind == tokWord && !afterFrom[strings.ToLower(toks[i].text)])) {
		i++
	}
	if i < len(toks) {
		t := toks[i]
		if t.kind == tokPunct && t.text == "," {
			return result.Relation{}, fmt.Errorf("multiple relations are not editable")
		}
		if !(t.kind == tokWord && afterFrom[strings.ToLower(t.text)]) {
			return result.Relation{}, fmt.Errorf("unexpected %q after relation", t.text)
		}
	}

	rel := result.Relation{Schema: "public", Name: parts[len(parts)-1]}
	if len(parts) > 1 {
		rel.Schema = parts[len(parts)-2]
	}
	return rel, nil
}
