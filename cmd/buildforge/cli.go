package main

import (
	"flag"
	"fmt"
	"io"

	apperrors "github.com/buildforge/buildforge/internal/errors"
)

// Exit codes per spec.md §6.
const (
	exitSuccess         = 0
	exitUserError       = 1
	exitPipelineFailure = 2
	exitInterrupted     = 130
)

const usageText = `usage: buildforge <command> [flags] [arguments]

commands:
  init [--config FILE] <prd>                  create a run directory, persist initial state
  run [--config FILE] <prd>                   full end-to-end execution
  plan [--run-dir DIR] [--config FILE]        architect phase only
  build [--run-dir DIR] [--max-concurrent N]  builder fleet only (requires architect output)
  integrate [--run-dir DIR]                   integration phase only
  verify [--run-dir DIR]                      quality gate only
  resume [--run-dir DIR] [--config FILE]      resume from persisted state
  status [--run-dir DIR]                      print current state summary
  serve [--config FILE] [--addr HOST:PORT]    start the local status HTTP server
  config-template                             emit a fully-commented config YAML

flags are parsed before positional arguments.
`

// run dispatches args to a subcommand and returns the process exit code,
// the seam main() and tests both drive so the command table is testable
// without forking a process.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usageText)
		return exitUserError
	}

	cmd, rest := args[0], args[1:]
	var err error
	switch cmd {
	case "init":
		err = cmdInit(rest, stdout)
	case "run":
		err = cmdRun(rest, stdout)
	case "plan":
		err = cmdPlan(rest, stdout)
	case "build":
		err = cmdBuild(rest, stdout)
	case "integrate":
		err = cmdIntegrate(rest, stdout)
	case "verify":
		err = cmdVerify(rest, stdout)
	case "resume":
		err = cmdResume(rest, stdout)
	case "status":
		err = cmdStatus(rest, stdout)
	case "serve":
		err = cmdServe(rest, stdout)
	case "config-template":
		err = cmdConfigTemplate(rest, stdout)
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usageText)
		return exitSuccess
	default:
		fmt.Fprintf(stderr, "buildforge: unknown command %q\n\n", cmd)
		fmt.Fprint(stderr, usageText)
		return exitUserError
	}

	if err == nil {
		return exitSuccess
	}

	fmt.Fprintf(stderr, "buildforge: %v\n", err)
	if err == errInterrupted {
		return exitInterrupted
	}
	if apperrors.IsType(err, apperrors.ErrorTypeUserError) || err == flag.ErrHelp {
		return exitUserError
	}
	return exitPipelineFailure
}
