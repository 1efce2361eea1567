// SPDX-License-Identifier: Apache-2.0
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/fatih/color"

	"amice-go/internal/ir"
	"amice-go/internal/irtext"
	"amice-go/internal/verify"
)

// This binary is the standalone .air inspector: it parses, pretty-prints,
// and structurally lints a module without running any obfuscation pass —
// cmd/amice is the driver that actually obfuscates.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: amice-inspect <file.air>")
		os.Exit(1)
	}

	path := os.Args[1]
	source, err := os.ReadFile(path)
	if err != nil {
		color.Red("Failed to read file: %s", err)
		os.Exit(1)
	}

	m, err := irtext.Parse(path, string(source))
	if err != nil {
		reportParseError(string(source), err)
		os.Exit(1)
	}

	fmt.Print(ir.Print(m))

	problems := verify.Module(m)
	if len(problems) == 0 {
		color.Green("✅ %s verified clean (%d functions, %d globals)", path, len(m.Functions), len(m.Globals))
		return
	}

	for _, p := range problems {
		color.Yellow("⚠ %s", p.String())
	}
	color.Red("❌ %s failed verification with %d problem(s)", path, len(problems))
	os.Exit(1)
}

// reportParseError prints a friendly caret-style parse error message.
func reportParseError(src string, err error) {
	pe, ok := err.(participle.Error)
	if !ok {
		color.Red("Unexpected error: %s", err)
		return
	}

	pos := pe.Position()
	lines := strings.Split(src, "\n")
	if pos.Line <= 0 || pos.Line > len(lines) {
		color.Red("Syntax error at unknown location: %s", err)
		return
	}

	line := lines[pos.Line-1]
	caret := strings.Repeat(" ", pos.Column-1) + "^"

	color.Red("❌ Syntax error in %s at line %d, column %d:", pos.Filename, pos.Line, pos.Column)
	fmt.Println(line)
	color.HiRed(caret)
	fmt.Printf("→ %s\n", pe.Message())
}
