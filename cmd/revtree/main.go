// Command revtree inspects and edits a revtree store.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
)

// CLI defines the command-line interface.
type CLI struct {
	Config  string `name:"config" short:"c" help:"Configuration file" type:"path"`
	Data    string `name:"data" short:"d" help:"Store directory, overrides store.path" type:"path"`
	Verbose bool   `name:"verbose" short:"v" help:"Log at debug level"`

	Put       PutCmd       `cmd:"" help:"Store a value under a record key"`
	Get       GetCmd       `cmd:"" help:"Print the value of a record key"`
	Insert    InsertCmd    `cmd:"" help:"Store a value under the next free record key"`
	Remove    RemoveCmd    `cmd:"" help:"Remove a record"`
	Names     NamesCmd     `cmd:"" help:"Look up or create interned names"`
	Revisions RevisionsCmd `cmd:"" help:"List committed revisions"`
	Revert    RevertCmd    `cmd:"" help:"Commit a new revision identical to an earlier one"`
	Stats     StatsCmd     `cmd:"" help:"Show store statistics"`
	Truncate  TruncateCmd  `cmd:"" help:"Delete every revision"`
	Backup    BackupCmd    `cmd:"" help:"Copy every revision into a new store"`
	Verify    VerifyCmd    `cmd:"" help:"Check that every committed page is readable"`
	Version   VersionCmd   `cmd:"" help:"Print version information"`
}

// Globals is bound into every command's Run method.
type Globals struct {
	cli *CLI
	out io.Writer
}

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// run executes the CLI and returns an exit code.
// This is separated from main() to facilitate testing.
func run(args []string, stdout, stderr io.Writer) int {
	var cli CLI
	exited := false
	code := 0
	parser, err := kong.New(&cli,
		kong.Name("revtree"),
		kong.Description("Revisioned page store"),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
		kong.Exit(func(c int) {
			exited = true
			code = c
		}),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, err := parser.Parse(args[1:])
	if exited {
		return code
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := ctx.Run(&Globals{cli: &cli, out: stdout}); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
