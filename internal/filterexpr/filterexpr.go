// Package filterexpr compiles the user-facing astrodata filter language into
// a parameterized SQL condition over the stored descriptor mapping.
//
// The grammar is a flat chain of comparison terms joined by AND/OR, with NOT
// negating the term that follows it:
//
//	expr   := term (LOGOP term)*
//	term   := IDENT OP VALUE
//	LOGOP  := "AND" | "OR" | "NOT"        (case-insensitive)
//	OP     := "==" | "!=" | "<" | "<=" | ">" | ">="
//	VALUE  := number | quoted-string | bare-token
//
// Relaxed (non-strict) mode matches the interactive archive search: selected
// string fields match as case-insensitive substrings and selected numeric
// fields get a tolerance window around equality. Strict mode compiles every
// term as an exact comparison.
package filterexpr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Options control compilation. Column is the SQL expression yielding the
// descriptor JSONB document; ArgOffset is the index of the first placeholder
// minus one (pass len(args) already collected by the caller).
type Options struct {
	Strict    bool
	Column    string
	ArgOffset int
}

// Compiled is a SQL boolean expression plus its positional arguments.
type Compiled struct {
	SQL  string
	Args []any
}

// TermError describes why one term failed to compile.
type TermError struct {
	Term    string `json:"term"`
	Message string `json:"message"`
}

// Error aggregates per-term failures so handlers can surface all of them in
// one 400 response.
type Error struct {
	Terms []TermError
}

func (e *Error) Error() string {
	if len(e.Terms) == 0 {
		return "invalid filter expression"
	}
	parts := make([]string, 0, len(e.Terms))
	for _, t := range e.Terms {
		parts = append(parts, fmt.Sprintf("%s: %s", t.Term, t.Message))
	}
	return "invalid filter expression: " + strings.Join(parts, "; ")
}

// Fields that match as case-insensitive substrings in relaxed mode.
var substringFields = map[string]struct{}{
	"filter_name":   {},
	"detector_name": {},
	"disperser":     {},
}

// Numeric fields with an equality tolerance in relaxed mode, keyed to their
// relative tolerance.
var toleranceFields = map[string]float64{
	"central_wavelength": 1e-5,
	"exposure_time":      1e-2,
}

const absTolerance = 0.1

var datetimeFormats = map[string][]string{
	"ut_date":     {"2006-01-02", "20060102", "2006/01/02"},
	"ut_time":     {"15:04:05", "15:04:05.000", "15:04"},
	"local_time":  {"15:04:05", "15:04:05.000", "15:04"},
	"ut_datetime": {"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"},
}

var datetimeOutput = map[string]string{
	"ut_date":     "2006-01-02",
	"ut_time":     "15:04:05",
	"local_time":  "15:04:05",
	"ut_datetime": "2006-01-02T15:04:05",
}

var comparisonOps = map[string]string{
	"==": "=",
	"!=": "<>",
	"<":  "<",
	"<=": "<=",
	">":  ">",
	">=": ">=",
}

type term struct {
	field   string
	op      string
	value   string
	quoted  bool
	negated bool
	// connector joining this term to the previous one ("AND"/"OR"); empty
	// for the first term.
	connector string
}

// Compile translates expr into SQL. An empty expression compiles to an empty
// Compiled with no error.
func Compile(expr string, opts Options) (Compiled, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Compiled{}, nil
	}
	if opts.Column == "" {
		opts.Column = "astrodata"
	}

	terms, err := parse(expr)
	if err != nil {
		return Compiled{}, err
	}

	var (
		sqlParts []string
		args     []any
		termErrs []TermError
	)
	for _, t := range terms {
		frag, fragArgs, err := compileTerm(t, opts, len(args))
		if err != nil {
			termErrs = append(termErrs, TermError{
				Term:    fmt.Sprintf("%s %s %s", t.field, t.op, t.value),
				Message: err.Error(),
			})
			continue
		}
		if t.negated {
			frag = "NOT (" + frag + ")"
		}
		if t.connector != "" {
			sqlParts = append(sqlParts, t.connector)
		}
		sqlParts = append(sqlParts, frag)
		args = append(args, fragArgs...)
	}
	if len(termErrs) > 0 {
		return Compiled{}, &Error{Terms: termErrs}
	}
	return Compiled{SQL: "(" + strings.Join(sqlParts, " ") + ")", Args: args}, nil
}

func parse(expr string) ([]term, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}

	var (
		terms     []term
		connector string
		negated   bool
		first     = true
	)
	i := 0
	for i < len(tokens) {
		tok := tokens[i]
		switch strings.ToUpper(tok.text) {
		case "AND", "OR":
			if tok.quoted {
				break
			}
			if first && len(terms) == 0 {
				return nil, &Error{Terms: []TermError{{Term: tok.text, Message: "expression cannot start with a logical operator"}}}
			}
			connector = strings.ToUpper(tok.text)
			i++
			continue
		case "NOT":
			if tok.quoted {
				break
			}
			negated = true
			if connector == "" && !first {
				connector = "AND"
			}
			i++
			continue
		}

		if i+2 >= len(tokens) {
			return nil, &Error{Terms: []TermError{{Term: tok.text, Message: "incomplete term"}}}
		}
		opTok := tokens[i+1]
		valTok := tokens[i+2]
		if _, ok := comparisonOps[opTok.text]; !ok {
			return nil, &Error{Terms: []TermError{{Term: tok.text + " " + opTok.text, Message: "expected comparison operator"}}}
		}
		conn := connector
		if conn == "" && !first {
			conn = "AND"
		}
		terms = append(terms, term{
			field:     strings.ToLower(tok.text),
			op:        opTok.text,
			value:     valTok.text,
			quoted:    valTok.quoted,
			negated:   negated,
			connector: conn,
		})
		connector = ""
		negated = false
		first = false
		i += 3
	}
	if negated {
		return nil, &Error{Terms: []TermError{{Term: "NOT", Message: "dangling NOT"}}}
	}
	if len(terms) == 0 {
		return nil, &Error{Terms: []TermError{{Term: expr, Message: "no terms"}}}
	}
	return terms, nil
}

type token struct {
	text   string
	quoted bool
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(expr) && expr[j] != quote {
				j++
			}
			if j >= len(expr) {
				return nil, &Error{Terms: []TermError{{Term: expr[i:], Message: "unterminated string"}}}
			}
			tokens = append(tokens, token{text: expr[i+1 : j], quoted: true})
			i = j + 1
		case c == '=' || c == '!' || c == '<' || c == '>':
			j := i + 1
			if j < len(expr) && expr[j] == '=' {
				j++
			}
			tokens = append(tokens, token{text: expr[i:j]})
			i = j
		default:
			j := i
			for j < len(expr) && !strings.ContainsRune(" \t\n'\"=!<>", rune(expr[j])) {
				j++
			}
			tokens = append(tokens, token{text: expr[i:j]})
			i = j
		}
	}
	return tokens, nil
}

func compileTerm(t term, opts Options, argsSoFar int) (string, []any, error) {
	sqlOp, ok := comparisonOps[t.op]
	if !ok {
		return "", nil, fmt.Errorf("unsupported operator %q", t.op)
	}
	field := t.field
	textExpr := fmt.Sprintf("(%s->>'%s')", opts.Column, field)
	next := func(n int) string {
		return fmt.Sprintf("$%d", opts.ArgOffset+argsSoFar+n)
	}

	// Null literals compile to IS [NOT] NULL regardless of mode.
	if !t.quoted {
		switch strings.ToLower(t.value) {
		case "null", "none":
			switch t.op {
			case "==":
				return textExpr + " IS NULL", nil, nil
			case "!=":
				return textExpr + " IS NOT NULL", nil, nil
			default:
				return "", nil, fmt.Errorf("null only supports == and !=")
			}
		case "true", "false":
			boolVal := strings.EqualFold(t.value, "true")
			if t.op != "==" && t.op != "!=" {
				return "", nil, fmt.Errorf("boolean only supports == and !=")
			}
			return fmt.Sprintf("(%s)::boolean %s %s", textExpr, sqlOp, next(1)), []any{boolVal}, nil
		}
	}

	// Datetime fields normalize through their format lists; a value that
	// parses with none of them fails the term.
	if formats, ok := datetimeFormats[field]; ok {
		normalized, err := normalizeDatetime(t.value, formats, datetimeOutput[field])
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s %s %s", textExpr, sqlOp, next(1)), []any{normalized}, nil
	}

	// Tolerance fields: relaxed equality widens to a closed interval.
	if tol, ok := toleranceFields[field]; ok {
		v, err := strconv.ParseFloat(t.value, 64)
		if err != nil {
			return "", nil, fmt.Errorf("numeric value required: %q", t.value)
		}
		numExpr := fmt.Sprintf("(%s)::double precision", textExpr)
		if !opts.Strict && t.op == "==" {
			delta := math.Max(tol*math.Abs(v), absTolerance)
			return fmt.Sprintf("%s BETWEEN %s AND %s", numExpr, next(1), next(2)),
				[]any{v - delta, v + delta}, nil
		}
		return fmt.Sprintf("%s %s %s", numExpr, sqlOp, next(1)), []any{v}, nil
	}

	// Substring fields: relaxed equality becomes case-insensitive contains.
	if _, ok := substringFields[field]; ok && !opts.Strict {
		switch t.op {
		case "==":
			return textExpr + " ILIKE " + next(1), []any{"%" + escapeLike(t.value) + "%"}, nil
		case "!=":
			return textExpr + " NOT ILIKE " + next(1), []any{"%" + escapeLike(t.value) + "%"}, nil
		}
	}

	// Unquoted numeric literals compare numerically.
	if !t.quoted {
		if v, err := strconv.ParseFloat(t.value, 64); err == nil {
			return fmt.Sprintf("(%s)::double precision %s %s", textExpr, sqlOp, next(1)), []any{v}, nil
		}
	}

	return fmt.Sprintf("%s %s %s", textExpr, sqlOp, next(1)), []any{t.value}, nil
}

func normalizeDatetime(value string, formats []string, output string) (string, error) {
	value = strings.TrimSpace(value)
	for _, format := range formats {
		if parsed, err := time.Parse(format, value); err == nil {
			return parsed.Format(output), nil
		}
	}
	return "", fmt.Errorf("cannot parse %q as datetime", value)
}

func escapeLike(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, "%", `\%`)
	return strings.ReplaceAll(value, "_", `\_`)
}
