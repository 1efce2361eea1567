// SPDX-License-Identifier: Apache-2.0
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/fatih/color"

	"amice-go/internal/allpasses"
	"amice-go/internal/config"
	"amice-go/internal/ir"
	"amice-go/internal/irtext"
	"amice-go/internal/passregistry"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML/YAML/JSON pipeline config (defaults to AMICE_CONFIG_PATH, then built-in defaults)")
	outPath := flag.String("o", "", "write the obfuscated module here instead of stdout")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Println("Usage: amice [-config file] [-o out.air] <module.air>")
		os.Exit(1)
	}
	path := flag.Arg(0)

	source, err := os.ReadFile(path)
	if err != nil {
		color.Red("failed to read file: %s", err)
		os.Exit(1)
	}

	m, err := irtext.Parse(path, string(source))
	if err != nil {
		reportParseError(string(source), err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		color.Red("failed to load config: %s", err)
		os.Exit(1)
	}

	reg := passregistry.NewRegistry()
	allpasses.Register(reg)

	dispatcher, err := passregistry.NewDispatcher(reg, cfg)
	if err != nil {
		color.Red("failed to initialize pipeline: %s", err)
		os.Exit(1)
	}

	sink := dispatcher.Run(m)

	out := ir.Print(m)
	if *outPath != "" {
		if err := os.WriteFile(*outPath, []byte(out), 0o644); err != nil {
			color.Red("failed to write %s: %s", *outPath, err)
			os.Exit(1)
		}
	} else {
		fmt.Print(out)
	}

	if report := sink.Render(); report != "" {
		fmt.Fprint(os.Stderr, report)
	}

	if sink.HasErrors() {
		color.Red("⚠ pipeline reported errors obfuscating %s", path)
		os.Exit(1)
	}
	color.Green("✅ Successfully obfuscated %s (%d pass diagnostics)", path, len(sink.Items()))
}

// loadConfig resolves the effective pipeline config: an explicit -config
// flag wins, otherwise AMICE_CONFIG_PATH, otherwise the built-in defaults
// with every pass disabled (config.Load's "lazy_static CONFIG" contract).
func loadConfig(flagPath string) (config.Config, error) {
	if flagPath != "" {
		return config.LoadFromFile(flagPath)
	}
	return config.Load(), nil
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
