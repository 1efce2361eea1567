// Package irtext is a small textual assembly front end for internal/ir,
// used by the CLI and by test fixtures that would rather write a `.air`
// file than build a Module by hand. It is grounded on the teacher's
// grammar/lexer.go + grammar/parser.go + token/token.go participle-based
// approach, with a grammar rewritten from Kanso source syntax to IR
// assembly text — the teacher's language tooling has no counterpart once
// the thing being parsed is already an SSA IR rather than a source
// language, so this package is new but built in the same idiom and using
// the same parser library, github.com/alecthomas/participle/v2.
package irtext

import "github.com/alecthomas/participle/v2/lexer"

// Lexer tokenizes `.air` source. The rule ordering mirrors the teacher's
// KansoLexer: comments first, then identifiers/globals/numbers, then
// operators, then punctuation, with whitespace elided by the parser.
var Lexer = lexer.MustStateful(lexer.Rules{
	"Root": {
		{"Comment", `;[^\n]*`, nil},
		{"String", `"(\\.|[^"])*"`, nil},
		{"Global", `@[a-zA-Z_.][a-zA-Z0-9_.]*`, nil},
		{"Local", `%[a-zA-Z_.][a-zA-Z0-9_.]*`, nil},
		{"Ident", `[a-zA-Z_][a-zA-Z0-9_]*`, nil},
		{"Float", `[0-9]+\.[0-9]+`, nil},
		{"Integer", `-?(0x[0-9a-fA-F]+|[0-9]+)`, nil},
		{"Punct", `[={}()\[\],:*]`, nil},
		{"EOL", `\n+`, nil},
		{"Whitespace", `[ \t\r]+`, nil},
	},
})
