// Command buildforge drives the pipeline engine from the command line
// (spec.md §6): init/run/plan/build/integrate/verify/resume/status and
// config-template.
package main

import (
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
