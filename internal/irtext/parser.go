package irtext

import (
	"github.com/alecthomas/participle/v2"
)

var astParser = participle.MustBuild[File](
	participle.Lexer(Lexer),
	participle.Elide("Whitespace", "Comment"),
	participle.UseLookahead(2),
)

// ParseString parses `.air` source text into a File AST. filename is used
// only for error messages.
func ParseString(filename, source string) (*File, error) {
	return astParser.ParseString(filename, source)
}

// Parse parses source text into an ir.Module, grounded on the teacher's
// cmd/kanso-cli main.go pattern of parsing then handing the AST to a
// Builder rather than interpreting tokens directly.
func Parse(filename, source string) (*Module, error) {
	file, err := ParseString(filename, source)
	if err != nil {
		return nil, err
	}
	return Build(file)
}
