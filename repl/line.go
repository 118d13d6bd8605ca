package repl

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/chazu/atlas/compiler"
	"github.com/chazu/atlas/vm"
)

// ---------------------------------------------------------------------------
// Command lines
// ---------------------------------------------------------------------------

// Tokenize splits a command line into tokens. Words are separated by
// spaces; double-quoted words may contain spaces and Go escapes.
func Tokenize(line string) ([]compiler.Token, error) {
	var toks []compiler.Token
	col := 0
	rs := []rune(line)
	for col < len(rs) {
		if unicode.IsSpace(rs[col]) {
			col++
			continue
		}
		start := col
		pos := compiler.Position{Offset: len(string(rs[:start])), Line: 1, Column: start + 1}
		if rs[col] == '"' {
			col++
			for col < len(rs) && rs[col] != '"' {
				if rs[col] == '\\' {
					col++
				}
				col++
			}
			if col >= len(rs) {
				return nil, fmt.Errorf("%s: unterminated string", pos)
			}
			col++
			text, err := strconv.Unquote(string(rs[start:col]))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", pos, err)
			}
			toks = append(toks, compiler.Token{Type: compiler.TokenString, Text: text, Pos: pos})
			continue
		}
		for col < len(rs) && !unicode.IsSpace(rs[col]) {
			col++
		}
		word := string(rs[start:col])
		toks = append(toks, compiler.Token{Type: classify(word), Text: word, Pos: pos})
	}
	return toks, nil
}

func classify(word string) compiler.TokenType {
	if _, err := strconv.ParseInt(word, 10, 64); err == nil {
		return compiler.TokenInteger
	}
	if isIdentifier(word) {
		return compiler.TokenIdentifier
	}
	if _, err := strconv.ParseFloat(word, 64); err == nil {
		return compiler.TokenFloat
	}
	return compiler.TokenOperator
}

func isIdentifier(word string) bool {
	for i, r := range word {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && (unicode.IsDigit(r) || r == '.')) {
			continue
		}
		return false
	}
	return word != ""
}

// ParseCommand turns a command line into a command invocation of the
// global its first word names.
func ParseCommand(line string) (compiler.ReplInput, error) {
	toks, err := Tokenize(line)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	if toks[0].Type != compiler.TokenIdentifier {
		return nil, fmt.Errorf("%s: command must start with a name, got %s", toks[0].Pos, toks[0].Type)
	}
	callee := &compiler.Identifier{
		SpanVal: compiler.Span{Start: toks[0].Pos},
		Name:    toks[0].Text,
	}
	return compiler.CommandInput{Expr: callee, Tokens: toks[1:]}, nil
}

// TypedArgs converts integer and float tokens to numbers and passes every
// other token as a String.
var TypedArgs CommandParser = CommandParserFunc(func(tokens []compiler.Token) (vm.Args, error) {
	args := vm.Args{Positional: make([]vm.Value, len(tokens))}
	for i, tok := range tokens {
		switch tok.Type {
		case compiler.TokenInteger:
			n, err := strconv.ParseInt(tok.Text, 10, 64)
			if err != nil {
				return vm.Args{}, fmt.Errorf("%s: %w", tok.Pos, err)
			}
			args.Positional[i] = vm.Int(n)
		case compiler.TokenFloat:
			f, err := strconv.ParseFloat(tok.Text, 64)
			if err != nil {
				return vm.Args{}, fmt.Errorf("%s: %w", tok.Pos, err)
			}
			args.Positional[i] = vm.Float(f)
		default:
			args.Positional[i] = vm.String(tok.Text)
		}
	}
	return args, nil
})

// splitMeta reports whether line is a meta command such as :quit and
// returns its name and argument.
func splitMeta(line string) (name, arg string, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, ":") {
		return "", "", false
	}
	name, arg, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg), true
}
