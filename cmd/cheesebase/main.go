package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/mcheese/cheesebase/pkg/cbconfig"
	"github.com/mcheese/cheesebase/pkg/cheesebase"
)

// Build information (set via ldflags).
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "cheesebase",
		Usage:   "Embedded JSON document store",
		Version: Version,
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Show version information",
				Action: func(c *cli.Context) error {
					fmt.Printf("cheesebase %s\n", Version)
					fmt.Printf("Build Time: %s\n", BuildTime)
					fmt.Printf("Git Commit: %s\n", GitCommit)
					return nil
				},
			},
			{
				Name:  "config",
				Usage: "Configuration management commands",
				Subcommands: []*cli.Command{
					{
						Name:  "generate",
						Usage: "Generate a sample configuration file",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:    "output",
								Aliases: []string{"o"},
								Value:   "cheesebase.yaml",
								Usage:   "Output configuration file path",
							},
						},
						Action: generateConfig,
					},
					{
						Name:  "validate",
						Usage: "Validate a configuration file",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "file",
								Aliases:  []string{"f"},
								Usage:    "Configuration file to validate",
								Required: true,
							},
						},
						Action: validateConfig,
					},
				},
			},
			{
				Name:  "repl",
				Usage: "Open a database and accept insert/update/upsert/get/getall/remove/append commands",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "db",
						Aliases: []string{"f"},
						Value:   "cheesebase.db",
						Usage:   "Database file path",
					},
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Options file path (see 'config generate')",
					},
					&cli.StringFlag{
						Name:  "exec",
						Usage: "Run a single command and exit instead of reading stdin",
					},
				},
				Action: runRepl,
			},
		},
		Action: runRepl, // bare invocation behaves like "repl" with its default flags
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "cheesebase:", err)
		os.Exit(1)
	}
}

func generateConfig(c *cli.Context) error {
	opts := cbconfig.DefaultOptions()
	data, err := opts.ToYAML()
	if err != nil {
		return err
	}
	out := c.String("output")
	if out == "" {
		out = "cheesebase.yaml"
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}
	fmt.Printf("Wrote %s\n", out)
	return nil
}

func validateConfig(c *cli.Context) error {
	opts, err := cbconfig.LoadOptions(c.String("file"))
	if err != nil {
		return err
	}
	fmt.Printf("%s is valid\n", c.String("file"))
	_ = opts
	return nil
}

// runRepl opens the database named by --db and either runs the single
// --exec command or reads commands from stdin until "quit" or EOF, per
// spec.md §6's command list. Exit code 1 signals an open failure; 0 is a
// normal quit.
func runRepl(c *cli.Context) error {
	dbPath := c.String("db")
	if dbPath == "" {
		dbPath = "cheesebase.db"
	}

	var opts *cbconfig.Options
	if cfgPath := c.String("config"); cfgPath != "" {
		loaded, err := cbconfig.LoadOptions(cfgPath)
		if err != nil {
			os.Exit(1)
		}
		opts = loaded
	}

	db, err := cheesebase.Open(dbPath, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cheesebase: open failed:", err)
		os.Exit(1)
	}
	defer db.Close()

	if exec := c.String("exec"); exec != "" {
		runLine(db, exec)
		return nil
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" {
			os.Exit(0)
		}
		runLine(db, line)
	}
	return nil
}

// runLine parses and executes one command line, printing its result or
// error to stdout/stderr. Errors never abort the REPL; they're reported
// and the loop continues.
func runLine(db *cheesebase.Database, line string) {
	fields := splitCommand(line)
	if len(fields) == 0 {
		return
	}
	cmd := fields[0]

	switch cmd {
	case "get":
		if len(fields) != 2 {
			fmt.Fprintln(os.Stderr, "usage: get <path>")
			return
		}
		v, err := db.Get(fields[1])
		report(v, err)

	case "getall":
		if len(fields) != 2 {
			fmt.Fprintln(os.Stderr, "usage: getall <path>")
			return
		}
		v, err := db.GetAll(fields[1])
		report(v, err)

	case "remove":
		if len(fields) != 2 {
			fmt.Fprintln(os.Stderr, "usage: remove <path>")
			return
		}
		err := db.Remove(fields[1])
		report(nil, err)

	case "insert", "update", "upsert", "append":
		if len(fields) != 3 {
			fmt.Fprintf(os.Stderr, "usage: %s <path> <json-value>\n", cmd)
			return
		}
		val, err := parseJSONValue(fields[2])
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad value:", err)
			return
		}
		switch cmd {
		case "insert":
			report(nil, db.Insert(fields[1], val))
		case "update":
			report(nil, db.Update(fields[1], val))
		case "upsert":
			report(nil, db.Upsert(fields[1], val))
		case "append":
			idx, err := db.Append(fields[1], val)
			report(idx, err)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
	}
}

func report(v interface{}, err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return
	}
	if v == nil {
		fmt.Println("ok")
		return
	}
	out, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return
	}
	fmt.Println(string(out))
}

// parseJSONValue parses a command's trailing argument as the JSON literal
// it names (null, true/false, a number, a quoted string, or a full
// object/array) into the same nil/bool/float64/string/map/slice shapes
// encoding/json always produces. This is a thin convenience parser, not a
// query language: cheesebase's core never runs it.
func parseJSONValue(s string) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// splitCommand splits a line into fields, keeping a JSON object/array/
// string argument (which may itself contain spaces) intact as one field.
func splitCommand(line string) []string {
	var fields []string
	i := 0
	for i < len(line) {
		for i < len(line) && line[i] == ' ' {
			i++
		}
		if i >= len(line) {
			break
		}
		start := i
		switch line[i] {
		case '"':
			i++
			for i < len(line) && line[i] != '"' {
				if line[i] == '\\' && i+1 < len(line) {
					i++
				}
				i++
			}
			if i < len(line) {
				i++
			}
		case '{', '[':
			depth := 0
			inStr := false
			for i < len(line) {
				switch {
				case inStr:
					if line[i] == '\\' && i+1 < len(line) {
						i++
					} else if line[i] == '"' {
						inStr = false
					}
				case line[i] == '"':
					inStr = true
				case line[i] == '{' || line[i] == '[':
					depth++
				case line[i] == '}' || line[i] == ']':
					depth--
				}
				i++
				if depth == 0 {
					break
				}
			}
		default:
			for i < len(line) && line[i] != ' ' {
				i++
			}
		}
		fields = append(fields, line[start:i])
	}
	return fields
}
