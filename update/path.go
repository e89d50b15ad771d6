package update

import (
	"strconv"
	"strings"

	"github.com/dbcore/fiberdb/errors"
)

// tokenKind classifies one path token, per spec.md §9's "JSON path lexer"
// design note: a small state machine over bytes producing {NUM, STR, END,
// ANY} tokens.
type tokenKind int

const (
	tokNum tokenKind = iota // [N]
	tokStr                  // .name or ["quoted"]
	tokEnd                  // end of path
	tokAny                  // [*] — lexically valid, semantically rejected
)

// pathToken is one step of a decoded path, with its source byte offset
// preserved so the path engine can fast-path common-prefix matches
// against an existing ROUTE node without re-lexing.
type pathToken struct {
	kind   tokenKind
	str    string
	num    int
	offset int // byte offset in the original path string where this token started
}

// pathLexer walks a path string token by token. The grammar, from
// spec.md §6:
//
//	path := head { '.' name | '[' index ']' | '["' quoted '"]' }*
//	head := name | '[' index ']'
type pathLexer struct {
	src       string
	pos       int
	atHead    bool
	indexBase int
}

func newPathLexer(src string, indexBase int) *pathLexer {
	return &pathLexer{src: src, atHead: true, indexBase: indexBase}
}

// Rest returns the unconsumed remainder of the path, including the
// current lexer position, used to rebase a BAR node's remainder path
// when it's copied into a new parent during branch resolution.
func (l *pathLexer) Rest() string {
	return l.src[l.pos:]
}

// Offset returns the current byte offset into the original path string.
func (l *pathLexer) Offset() int { return l.pos }

// Next returns the next token, or a tokEnd token once the path is
// exhausted.
func (l *pathLexer) Next() (pathToken, error) {
	if l.pos >= len(l.src) {
		return pathToken{kind: tokEnd, offset: l.pos}, nil
	}

	start := l.pos
	if l.atHead {
		l.atHead = false
		if l.src[l.pos] == '[' {
			return l.lexBracket(start)
		}
		return l.lexBareName(start)
	}

	switch l.src[l.pos] {
	case '.':
		l.pos++
		return l.lexBareName(start)
	case '[':
		return l.lexBracket(start)
	default:
		return pathToken{}, errors.Newf(errors.IllegalParams, "malformed path %q at offset %d", l.src, start)
	}
}

func (l *pathLexer) lexBareName(start int) (pathToken, error) {
	begin := l.pos
	for l.pos < len(l.src) && l.src[l.pos] != '.' && l.src[l.pos] != '[' {
		l.pos++
	}
	if l.pos == begin {
		return pathToken{}, errors.Newf(errors.IllegalParams, "empty path component at offset %d", start)
	}
	return pathToken{kind: tokStr, str: l.src[begin:l.pos], offset: start}, nil
}

func (l *pathLexer) lexBracket(start int) (pathToken, error) {
	l.pos++ // consume '['
	if l.pos >= len(l.src) {
		return pathToken{}, errors.Newf(errors.IllegalParams, "unterminated '[' at offset %d", start)
	}

	switch {
	case l.src[l.pos] == '*':
		l.pos++
		if l.pos >= len(l.src) || l.src[l.pos] != ']' {
			return pathToken{}, errors.Newf(errors.IllegalParams, "unterminated '[*' at offset %d", start)
		}
		l.pos++
		return pathToken{kind: tokAny, offset: start}, nil
	case l.src[l.pos] == '"':
		return l.lexQuoted(start)
	default:
		return l.lexIndex(start)
	}
}

func (l *pathLexer) lexQuoted(start int) (pathToken, error) {
	l.pos++ // consume opening '"'
	begin := l.pos
	for l.pos < len(l.src) && l.src[l.pos] != '"' {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return pathToken{}, errors.Newf(errors.IllegalParams, "unterminated quoted key at offset %d", start)
	}
	name := l.src[begin:l.pos]
	l.pos++ // consume closing '"'
	if l.pos >= len(l.src) || l.src[l.pos] != ']' {
		return pathToken{}, errors.Newf(errors.IllegalParams, "expected ']' after quoted key at offset %d", start)
	}
	l.pos++
	return pathToken{kind: tokStr, str: name, offset: start}, nil
}

func (l *pathLexer) lexIndex(start int) (pathToken, error) {
	begin := l.pos
	for l.pos < len(l.src) && l.src[l.pos] != ']' {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return pathToken{}, errors.Newf(errors.IllegalParams, "unterminated '[' at offset %d", start)
	}
	digits := l.src[begin:l.pos]
	l.pos++ // consume ']'
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return pathToken{}, errors.Newf(errors.IllegalParams, "non-negative integer index expected at offset %d, got %q", start, digits)
	}
	// Path array indices are index_base-relative, the same as a plain
	// integer top-level selector (the original lexer is built with
	// TUPLE_INDEX_BASE, so a path's bracket indices are never 0-based
	// internally).
	idx := n - l.indexBase
	if idx < 0 {
		return pathToken{}, errors.Newf(errors.NoSuchField, "path index %d is not a valid position under index_base %d at offset %d", n, l.indexBase, start)
	}
	return pathToken{kind: tokNum, num: idx, offset: start}, nil
}

// parsePath fully lexes a path into tokens, used by branch resolution to
// walk a stored path and a new path in parallel. Rejects ANY tokens
// up front, per spec.md §6: "Wildcard '*' is lexically valid but
// semantically rejected." indexBase rebases every bracketed numeric
// index the same way a plain integer selector is rebased.
func parsePath(src string, indexBase int) ([]pathToken, error) {
	lx := newPathLexer(src, indexBase)
	var toks []pathToken
	for {
		tok, err := lx.Next()
		if err != nil {
			return nil, err
		}
		if tok.kind == tokEnd {
			return toks, nil
		}
		if tok.kind == tokAny {
			return nil, errors.Newf(errors.UnsupportedUpdate, "wildcard not supported in path %q", src)
		}
		toks = append(toks, tok)
	}
}

// commonPrefixLen returns how many leading tokens of a and b are equal.
func commonPrefixLen(a, b []pathToken) int {
	n := 0
	for n < len(a) && n < len(b) && tokensEqual(a[n], b[n]) {
		n++
	}
	return n
}

func tokensEqual(a, b pathToken) bool {
	if a.kind != b.kind {
		return false
	}
	if a.kind == tokNum {
		return a.num == b.num
	}
	return a.str == b.str
}

// formatPath rejoins tokens back into path syntax, used to name the
// offending path in branch resolution's "intersected JSON paths" errors.
// Array indices are written in their 0-based internal form.
func formatPath(toks []pathToken) string {
	var sb strings.Builder
	for i, t := range toks {
		switch t.kind {
		case tokNum:
			sb.WriteByte('[')
			sb.WriteString(strconv.Itoa(t.num))
			sb.WriteByte(']')
		case tokStr:
			if i == 0 {
				sb.WriteString(t.str)
			} else {
				sb.WriteByte('.')
				sb.WriteString(t.str)
			}
		}
	}
	return sb.String()
}
