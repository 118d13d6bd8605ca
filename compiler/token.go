package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Tokens carried by command invocations
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	TokenError TokenType = iota
	TokenInteger
	TokenFloat
	TokenString
	TokenIdentifier
	TokenOperator
	TokenPunct
)

var tokenNames = map[TokenType]string{
	TokenError:      "ERROR",
	TokenInteger:    "INTEGER",
	TokenFloat:      "FLOAT",
	TokenString:     "STRING",
	TokenIdentifier: "IDENTIFIER",
	TokenOperator:   "OPERATOR",
	TokenPunct:      "PUNCT",
}

// String returns the string representation of a token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", t)
}

// Token is a lexical token. Text is the token's source text; for strings it
// is the unquoted contents.
type Token struct {
	Type TokenType
	Text string
	Pos  Position
}

// String returns a string representation of the token.
func (t Token) String() string {
	return fmt.Sprintf("%s(%q)@%s", t.Type, t.Text, t.Pos)
}
