// Package repl reads semicolon-terminated SQL statements from an input
// stream and feeds them to the engine, printing results and one-line
// errors to the output stream.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
)

// ErrorPrependStr is prepended to any error before being sent to the
// output writer.
const ErrorPrependStr = "ERROR: "

// Handler executes one SQL statement, writing any result rows or status
// lines to output.
type Handler func(statement string, output io.Writer) error

// REPL drives a statement handler from a line-based input stream.
// Statements may span lines and end at a semicolon outside string quotes.
type REPL struct {
	handler Handler
}

// NewRepl constructs a REPL around a statement handler.
func NewRepl(handler Handler) *REPL {
	return &REPL{handler: handler}
}

// Run reads input until EOF, executing each completed statement. Input and
// output default to stdin and stdout when nil.
func (r *REPL) Run(clientId uuid.UUID, prompt string, input io.Reader, output io.Writer) {
	if input == nil {
		input = os.Stdin
	}
	if output == nil {
		output = os.Stdout
	}
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var pending strings.Builder
	io.WriteString(output, prompt)
	for scanner.Scan() {
		pending.WriteString(scanner.Text())
		pending.WriteByte('\n')
		statements, rest := SplitStatements(pending.String())
		pending.Reset()
		pending.WriteString(rest)
		for _, statement := range statements {
			if strings.TrimSpace(statement) == "" {
				continue
			}
			if err := r.handler(statement, output); err != nil {
				fmt.Fprintf(output, "%s%s\n", ErrorPrependStr, err)
			}
		}
		if strings.TrimSpace(pending.String()) == "" {
			io.WriteString(output, prompt)
		}
	}
	// Execute a trailing unterminated statement rather than dropping it.
	if statement := strings.TrimSpace(pending.String()); statement != "" {
		if err := r.handler(statement, output); err != nil {
			fmt.Fprintf(output, "%s%s\n", ErrorPrependStr, err)
		}
	}
	io.WriteString(output, "\n")
}

// SplitStatements splits buffered input into complete semicolon-terminated
// statements and the unterminated remainder. Semicolons inside
// single-quoted strings do not terminate a statement.
func SplitStatements(text string) (statements []string, rest string) {
	start := 0
	inQuote := false
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\'':
			inQuote = !inQuote
		case ';':
			if !inQuote {
				statements = append(statements, text[start:i+1])
				start = i + 1
			}
		}
	}
	return statements, text[start:]
}
