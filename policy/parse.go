// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package policy

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// LookupFunc resolves an identifier used in place of a key or hash. It should
// return nil, nil if the identifier is unknown, in which case the identifier
// itself is decoded as hex.
type LookupFunc func(identifier string) ([]byte, error)

// expr is a node of the untyped expression tree produced by the tokenizer
// stage, e.g. `and(pk(A),time(10))`.
type expr struct {
	name string
	args []*expr
}

type stack struct {
	elements []*expr
}

func (s *stack) push(element *expr) {
	s.elements = append(s.elements, element)
}

func (s *stack) pop() *expr {
	if len(s.elements) == 0 {
		return nil
	}
	top := s.elements[len(s.elements)-1]
	s.elements = s.elements[:len(s.elements)-1]
	return top
}

func (s *stack) top() *expr {
	if len(s.elements) == 0 {
		return nil
	}
	return s.elements[len(s.elements)-1]
}

func (s *stack) size() int {
	return len(s.elements)
}

// splitString splits s on the separator runes, keeping each separator as its
// own element and dropping empty elements.
func splitString(s string, isSeparator func(c rune) bool) []string {
	substrings := make([]string, 0)

	i := 0
	for i < len(s) {
		j := strings.IndexFunc(s[i:], isSeparator)
		if j == -1 {
			substrings = append(substrings, s[i:])
			return substrings
		}
		j += i

		if j > i {
			substrings = append(substrings, s[i:j])
		}

		substrings = append(substrings, s[j:j+1])
		i = j + 1
	}
	return substrings
}

func isSeparator(c rune) bool {
	return c == '(' || c == ')' || c == ','
}

// parseExpr builds the untyped expression tree of text.
func parseExpr(text string) (*expr, error) {
	text = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)

	tokens := splitString(text, isSeparator)
	if len(tokens) == 0 {
		return nil, errors.New("empty policy")
	}

	first, last := tokens[0], tokens[len(tokens)-1]
	if first == "(" || first == ")" || first == "," ||
		last == "(" || last == "," {

		return nil, errors.New("invalid first or last character")
	}

	var stack stack
	for i, token := range tokens {
		switch token {
		case "(":
			// Only a name may open an argument list: "((", ")(" and
			// ",(" are rejected.
			if i > 0 && isSeparator(rune(tokens[i-1][0])) {
				return nil, fmt.Errorf("the sequence %s%s is "+
					"invalid", tokens[i-1], token)
			}

		case ",", ")":
			// "(,", "()", ",," and ",)" leave an empty argument.
			if i > 0 && (tokens[i-1] == "(" || tokens[i-1] == ",") {
				return nil, fmt.Errorf("the sequence %s%s is "+
					"invalid", tokens[i-1], token)
			}

			arg := stack.pop()
			parent := stack.top()
			if arg == nil || parent == nil {
				return nil, errors.New("unbalanced parentheses")
			}
			parent.args = append(parent.args, arg)

		default:
			if i > 0 && tokens[i-1] == ")" {
				return nil, fmt.Errorf("the sequence %s%s is "+
					"invalid", tokens[i-1], token)
			}
			stack.push(&expr{name: token})
		}
	}

	if stack.size() != 1 {
		return nil, errors.New("unbalanced parentheses")
	}

	return stack.top(), nil
}

// Parse reads a policy from its textual form:
//
//	pk(K) multi(k,K1,...,Kn) hash(H) time(n)
//	thresh(k,P1,...,Pn) and(P,Q) or(P,Q) aor(P,Q)
//
// K is a hex encoded compressed public key and H a hex encoded 32 byte hash.
// Either may instead be an identifier resolved through lookup, which may be
// nil.
func Parse(text string, lookup LookupFunc) (Policy, error) {
	root, err := parseExpr(text)
	if err != nil {
		return nil, err
	}
	return fromExpr(root, lookup)
}

func fromExpr(e *expr, lookup LookupFunc) (Policy, error) {
	argCount := func(n int) error {
		if len(e.args) != n {
			return fmt.Errorf("%s expects %d arguments, got %d",
				e.name, n, len(e.args))
		}
		return nil
	}

	switch e.name {
	case "pk":
		if err := argCount(1); err != nil {
			return nil, err
		}
		key, err := resolveKey(e.args[0], lookup)
		if err != nil {
			return nil, err
		}
		return NewCheckSig(key), nil

	case "multi":
		if len(e.args) < 2 {
			return nil, errors.New("multi expects a threshold and " +
				"at least one key")
		}
		k, err := resolveInt(e.args[0])
		if err != nil {
			return nil, err
		}
		keys := make([]PubKey, 0, len(e.args)-1)
		seen := make(map[PubKey]struct{}, len(e.args)-1)
		for _, arg := range e.args[1:] {
			key, err := resolveKey(arg, lookup)
			if err != nil {
				return nil, err
			}
			if _, ok := seen[key]; ok {
				return nil, fmt.Errorf("duplicate key %v in "+
					"multi", key)
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
		return NewMulti(k, keys)

	case "hash":
		if err := argCount(1); err != nil {
			return nil, err
		}
		digest, err := resolveHash(e.args[0], lookup)
		if err != nil {
			return nil, err
		}
		return NewHash(digest), nil

	case "time":
		if err := argCount(1); err != nil {
			return nil, err
		}
		if len(e.args[0].args) != 0 {
			return nil, errors.New("time expects a number")
		}
		n, err := strconv.ParseUint(e.args[0].name, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid lock time %q: %w",
				e.args[0].name, err)
		}
		return NewTime(uint32(n))

	case "thresh":
		if len(e.args) < 2 {
			return nil, errors.New("thresh expects a threshold " +
				"and at least one sub-policy")
		}
		k, err := resolveInt(e.args[0])
		if err != nil {
			return nil, err
		}
		subs := make([]Policy, 0, len(e.args)-1)
		for _, arg := range e.args[1:] {
			sub, err := fromExpr(arg, lookup)
			if err != nil {
				return nil, err
			}
			subs = append(subs, sub)
		}
		return NewThreshold(k, subs)

	case "and", "or", "aor":
		if err := argCount(2); err != nil {
			return nil, err
		}
		left, err := fromExpr(e.args[0], lookup)
		if err != nil {
			return nil, err
		}
		right, err := fromExpr(e.args[1], lookup)
		if err != nil {
			return nil, err
		}
		switch e.name {
		case "and":
			return NewAnd(left, right)
		case "or":
			return NewOr(left, right)
		default:
			return NewAsymmetricOr(left, right)
		}

	default:
		return nil, fmt.Errorf("unknown policy fragment %q", e.name)
	}
}

func resolveInt(e *expr) (int, error) {
	if len(e.args) != 0 {
		return 0, fmt.Errorf("expected a number, got %s(...)", e.name)
	}
	n, err := strconv.Atoi(e.name)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", e.name, err)
	}
	return n, nil
}

// resolveValue returns the bytes of a key or hash argument, consulting lookup
// before falling back to hex.
func resolveValue(e *expr, lookup LookupFunc) ([]byte, error) {
	if len(e.args) != 0 {
		return nil, fmt.Errorf("expected a value, got %s(...)", e.name)
	}
	if lookup != nil {
		value, err := lookup(e.name)
		if err != nil {
			return nil, err
		}
		if value != nil {
			return value, nil
		}
	}
	value, err := hex.DecodeString(e.name)
	if err != nil {
		return nil, fmt.Errorf("%q is neither a known identifier nor "+
			"hex: %w", e.name, err)
	}
	return value, nil
}

func resolveKey(e *expr, lookup LookupFunc) (PubKey, error) {
	value, err := resolveValue(e, lookup)
	if err != nil {
		return PubKey{}, err
	}
	return NewPubKey(value)
}

func resolveHash(e *expr, lookup LookupFunc) (chainhash.Hash, error) {
	value, err := resolveValue(e, lookup)
	if err != nil {
		return chainhash.Hash{}, err
	}
	digest, err := chainhash.NewHash(value)
	if err != nil {
		return chainhash.Hash{}, err
	}
	return *digest, nil
}
