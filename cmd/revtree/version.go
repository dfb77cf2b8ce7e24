package main

import (
	"fmt"
	"runtime"
)

// Version information - these can be set at build time using ldflags.
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version   = "0.1.0"
	commit    = "unknown"
	buildDate = "unknown"
)

// VersionCmd prints version information.
type VersionCmd struct {
	Short bool `help:"Show only version number"`
}

// Run implements the version command.
func (c *VersionCmd) Run(g *Globals) error {
	if c.Short {
		fmt.Fprintln(g.out, version)
		return nil
	}

	fmt.Fprintf(g.out, "revtree version %s\n", version)
	fmt.Fprintf(g.out, "  Commit:     %s\n", commit)
	fmt.Fprintf(g.out, "  Built:      %s\n", buildDate)
	fmt.Fprintf(g.out, "  Go version: %s\n", runtime.Version())
	fmt.Fprintf(g.out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	return nil
}
