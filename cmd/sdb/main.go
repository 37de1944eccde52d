package main

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/stackprobe/sdb/pkg/config"
	"github.com/stackprobe/sdb/pkg/debugger"
	"github.com/stackprobe/sdb/pkg/logflags"
	"github.com/stackprobe/sdb/pkg/symbols"
	"github.com/stackprobe/sdb/pkg/terminal"
	"github.com/stackprobe/sdb/pkg/version"
)

var (
	log       bool
	logOutput string
)

func main() {
	// ptrace(2) expects all requests after the initial attach to come
	// from the same thread, so pin the main goroutine before any
	// process is traced.
	runtime.LockOSThread()

	rootCommand := &cobra.Command{
		Use:   "sdb <target> [args...]",
		Short: "sdb is a source-aware debugger for native binaries.",
		Long: `sdb launches the given target under trace and drops into an
interactive prompt from which it can be run, stopped at breakpoints,
single-stepped and unwound.`,
		Args: cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(args[0], 0))
		},
	}
	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", "Comma-separated list of components that should produce debug output (debugger,proc,symbols).")

	attachCommand := &cobra.Command{
		Use:   "attach <pid> <target>",
		Short: "Attaches to a running process and begins debugging it.",
		Long: `Attaches to the process with the given pid. The path to the target
binary is still required, as its debug data is read from disk.`,
		Args: cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Invalid pid: %s\n", args[0])
				os.Exit(1)
			}
			os.Exit(execute(args[1], pid))
		},
	}
	rootCommand.AddCommand(attachCommand)

	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sdb %s\n%s\n", version.SdbVersion, version.BuildInfo())
		},
	}
	// The logging flags only matter to commands that start a session.
	versionCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		cmd.InheritedFlags().VisitAll(func(flag *pflag.Flag) {
			flag.Hidden = true
		})
		cmd.Parent().HelpFunc()(cmd, args)
	})
	rootCommand.AddCommand(versionCommand)

	rootCommand.Execute()
}

func execute(target string, attachPid int) int {
	if err := logflags.Setup(log, logOutput); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	conf := config.LoadConfig()

	// A session cannot proceed meaningfully without symbols.
	syms, err := symbols.New(target)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	session := debugger.New(target, syms, conf)
	if attachPid != 0 {
		if err := session.Attach(attachPid); err != nil {
			fmt.Fprintf(os.Stderr, "Could not attach to process %d: %v\n", attachPid, err)
			return 1
		}
	}

	status, err := terminal.New(session, conf).Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return status
}
