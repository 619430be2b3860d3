package lookup

import (
	"strings"

	"github.com/dreamware/kvfabric/internal/errkind"
)

// resolveLeaf resolves one query leaf (a key name) to its current set.
type resolveLeaf func(leaf string) (map[string]struct{}, error)

// evaluateQuery parses and evaluates a boolean set-algebra expression
// left-to-right with standard precedence: `&` and `-` bind tighter than
// `|`, grouping via parens, leaves resolved by resolve (spec §4.D "Local":
// "The run_query operator evaluates left-to-right with standard precedence
// (& and - higher than |)").
func evaluateQuery(expr string, resolve resolveLeaf) (map[string]struct{}, error) {
	p := &queryParser{tokens: tokenizeQuery(expr), resolve: resolve}
	result, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, errkind.InvalidArgumentf("run_query: unexpected trailing token %q", p.peek())
	}
	return result, nil
}

// queryLeaves returns the distinct leaf key names referenced by expr, in
// first-occurrence order, without evaluating any set operations. Used by
// Sharded to decide whether a query touches one shard or many before
// deciding how to route it.
func queryLeaves(expr string) ([]string, error) {
	var leaves []string
	seen := make(map[string]bool)
	_, err := evaluateQuery(expr, func(leaf string) (map[string]struct{}, error) {
		if !seen[leaf] {
			seen[leaf] = true
			leaves = append(leaves, leaf)
		}
		return map[string]struct{}{}, nil
	})
	return leaves, err
}

func tokenizeQuery(expr string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range expr {
		switch r {
		case '|', '&', '-', '(', ')':
			flush()
			tokens = append(tokens, string(r))
		case ' ', '\t', '\n':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

type queryParser struct {
	tokens  []string
	pos     int
	resolve resolveLeaf
}

func (p *queryParser) peek() string {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return ""
}

func (p *queryParser) next() string {
	t := p.peek()
	p.pos++
	return t
}

// parseExpr handles `|` (lowest precedence).
func (p *queryParser) parseExpr() (map[string]struct{}, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.peek() == "|" {
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = union(left, right)
	}
	return left, nil
}

// parseTerm handles `&` and `-` (higher precedence than `|`).
func (p *queryParser) parseTerm() (map[string]struct{}, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for p.peek() == "&" || p.peek() == "-" {
		op := p.next()
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		if op == "&" {
			left = intersect(left, right)
		} else {
			left = difference(left, right)
		}
	}
	return left, nil
}

func (p *queryParser) parseFactor() (map[string]struct{}, error) {
	tok := p.peek()
	switch tok {
	case "":
		return nil, errkind.InvalidArgumentf("run_query: unexpected end of expression")
	case "|", "&", "-", ")":
		return nil, errkind.InvalidArgumentf("run_query: expected key name or '(', got %q", tok)
	case "(":
		p.next()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.peek() != ")" {
			return nil, errkind.InvalidArgumentf("run_query: missing closing ')'")
		}
		p.next()
		return inner, nil
	default:
		p.next()
		return p.resolve(tok)
	}
}

func union(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for k := range a {
		if _, ok := b[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}

func difference(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for k := range a {
		if _, ok := b[k]; !ok {
			out[k] = struct{}{}
		}
	}
	return out
}
