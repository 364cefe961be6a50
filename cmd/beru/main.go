// Command beru validates and runs workflow definition files.
//
// Usage:
//
//	beru run workflow.yaml             # execute a workflow definition
//	beru run --config beru.yaml wf.yaml
//	beru check workflow.yaml           # validate without executing
//	beru version
//
// Tasks reference agents by name. The built-in agents are "echo", which
// returns its input, and "shell", which runs its input as a command after
// the safety policy clears it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/beruhq/beru"
	"github.com/beruhq/beru/config"
	"github.com/beruhq/beru/types"
	"github.com/beruhq/beru/workflow"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(os.Args[2:])
	case "check":
		err = checkCommand(os.Args[2:])
	case "version":
		fmt.Printf("beru %s (built %s)\n", Version, BuildTime)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`beru - task orchestration engine

Commands:
  run [--config FILE] WORKFLOW   execute a workflow definition
  check WORKFLOW                 validate a workflow definition
  version                        print version information`)
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to the engine configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("run expects exactly one workflow file, got %d", fs.NArg())
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	sys, err := beru.New(cfg)
	if err != nil {
		return err
	}
	defer sys.Close()

	if err := registerBuiltins(sys); err != nil {
		return err
	}

	wf, err := loadWorkflow(fs.Arg(0))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := sys.Engine.Submit(ctx, wf)
	if err != nil {
		return err
	}
	report := run.Wait()

	fmt.Printf("workflow %s: %s in %s\n", report.WorkflowName, report.Status, report.Duration)
	fmt.Printf("succeeded=%d failed=%d timed_out=%d cancelled=%d skipped=%d\n",
		report.Succeeded, report.Failed, report.TimedOut, report.Cancelled, report.Skipped)
	for _, res := range report.Results {
		line := fmt.Sprintf("  %-20s %s", res.TaskName, res.Status)
		if res.Err != nil {
			line += "  " + res.Err.Error()
		}
		fmt.Println(line)
	}

	if report.Status != types.WorkflowCompleted {
		os.Exit(2)
	}
	return nil
}

func checkCommand(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("check expects exactly one workflow file, got %d", len(args))
	}
	wf, err := loadWorkflow(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("workflow %s is valid: %d tasks, mode %s\n", wf.Name(), wf.Len(), wf.Mode())
	return nil
}

func loadWorkflow(path string) (*workflow.Workflow, error) {
	def, err := workflow.LoadDefinition(path)
	if err != nil {
		return nil, err
	}
	return def.Workflow()
}

// registerBuiltins installs the agents workflow definitions may reference.
func registerBuiltins(sys *beru.System) error {
	if err := sys.RegisterAgent("echo", types.ExecutorFunc(
		func(ctx context.Context, input string) (string, error) {
			return input, nil
		},
	)); err != nil {
		return err
	}
	return sys.RegisterAgent("shell", shellAgent{})
}

// shellAgent runs its input as a command line. Every invocation is declared
// as a command side effect, so the registry clears it with the safety policy
// before anything executes.
type shellAgent struct{}

func (shellAgent) Run(ctx context.Context, input string) (string, error) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return "", types.NewError(types.KindExecution, "empty command")
	}
	out, err := exec.CommandContext(ctx, parts[0], parts[1:]...).CombinedOutput()
	if err != nil {
		return string(out), types.Errorf(types.KindExecution, "command failed: %v", err)
	}
	return string(out), nil
}

func (shellAgent) Effects(input string) []types.SideEffect {
	return []types.SideEffect{{Kind: types.EffectCommand, Command: input}}
}
