// Package sql implements the scanner and recursive-descent parser that turn
// SQL text into the statement tree consumed by the executor. Keywords match
// case-insensitively; identifiers are case-sensitive.
package sql

// TokenType enumerates token categories. Keyword tokens use the keyword
// itself as their type.
type TokenType string

const (
	// Literals and identifiers.
	TokenID    TokenType = "ID"
	TokenInt   TokenType = "INT_LIT"
	TokenFloat TokenType = "FLOAT_LIT"
	TokenStr   TokenType = "STR"

	// Punctuation.
	TokenStar   TokenType = "STAR"
	TokenDot    TokenType = "DOT"
	TokenComma  TokenType = "COMMA"
	TokenLParen TokenType = "LPAREN"
	TokenRParen TokenType = "RPAREN"
	TokenSemi   TokenType = "SEMI"

	// Operators.
	TokenEq TokenType = "EQ"
	TokenNe TokenType = "NE"
	TokenGt TokenType = "GT"
	TokenGe TokenType = "GE"
	TokenLt TokenType = "LT"
	TokenLe TokenType = "LE"

	TokenEOF TokenType = "EOF"
)

// keywords maps upper-cased identifiers to their keyword token type.
var keywords = map[string]TokenType{}

// keywordList is every reserved word of the dialect.
var keywordList = []string{
	"CREATE", "DROP", "DATABASE", "DATABASES", "TABLE", "TABLES", "SHOW",
	"USE", "DESC", "ASC", "INDEX", "INDEXES", "PRIMARY", "FOREIGN", "KEY",
	"REFERENCES", "NOT", "NULL", "DEFAULT", "INT", "FLOAT", "VARCHAR",
	"INSERT", "INTO", "VALUES", "DELETE", "FROM", "UPDATE", "SET", "SELECT",
	"WHERE", "AND", "OR", "IS", "LIKE", "IN", "GROUP", "ORDER", "BY",
	"LIMIT", "OFFSET", "COUNT", "SUM", "AVG", "MIN", "MAX", "ALTER", "ADD",
	"LOAD", "DATA", "INFILE", "FIELDS", "TERMINATED", "UNIQUE", "DATE",
}

func init() {
	for _, kw := range keywordList {
		keywords[kw] = TokenType(kw)
	}
}

// Token is one lexical unit of a statement.
type Token struct {
	Type  TokenType
	Value string
}

// NewToken constructs a token.
func NewToken(typ TokenType, value string) Token {
	return Token{Type: typ, Value: value}
}
