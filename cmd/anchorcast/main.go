// Command anchorcast replays marker tracking traces through the marker
// lifecycle engine and journals what happened.
package main

import "os"

// version info - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.1.0"
	BuildDate      string = "unknown"

	AppName string = "anchorcast"
)

func main() {
	os.Exit(runCLI(os.Args[1:], os.Stdout, os.Stderr))
}
