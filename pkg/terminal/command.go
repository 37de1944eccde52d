package terminal

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"

	"github.com/stackprobe/sdb/pkg/debugger"
	"github.com/stackprobe/sdb/pkg/proc"
)

// ExitRequestError is returned by the quit command to signal that the
// terminal loop should stop.
var ExitRequestError = errors.New("exit")

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases []string
	helpMsg string
	cmdFn   cmdfunc
}

// Returns true if the command string matches one of the aliases for
// this command.
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the sdb terminal.
type Commands struct {
	cmds    []command
	session *debugger.Session
}

// DebugCommands returns a Commands struct with default commands
// defined.
func DebugCommands(session *debugger.Session) *Commands {
	c := &Commands{session: session}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: "Prints the help message."},
		{aliases: []string{"run", "r"}, cmdFn: c.run, helpMsg: "Restarts the target, re-arming requested breakpoints: run [args...]."},
		{aliases: []string{"continue", "c"}, cmdFn: c.cont, helpMsg: "Resumes the target until the next breakpoint, exit or signal."},
		{aliases: []string{"break", "b"}, cmdFn: c.breakpoint, helpMsg: "Sets a breakpoint: break <*address|line|function>."},
		{aliases: []string{"breakpoints", "bp"}, cmdFn: c.breakpoints, helpMsg: "Prints all requested breakpoints."},
		{aliases: []string{"clear"}, cmdFn: c.clear, helpMsg: "Removes a breakpoint: clear <*address|line|function>."},
		{aliases: []string{"step-instruction", "si"}, cmdFn: c.stepInstruction, helpMsg: "Executes one machine instruction of the stopped target."},
		{aliases: []string{"backtrace", "bt"}, cmdFn: c.backtrace, helpMsg: "Prints the call chain of the stopped target."},
		{aliases: []string{"quit", "q", "exit"}, cmdFn: quit, helpMsg: "Exits the debugger, killing the target if one is running."},
	}

	return c
}

// Merge adds aliases for existing commands from the configuration
// file.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

// Find looks up the command function for the given command input. An
// unknown command reports itself when invoked.
func (c *Commands) Find(cmdstr string) cmdfunc {
	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}
	return noCmdAvailable
}

// Names returns all command aliases, sorted.
func (c *Commands) Names() []string {
	names := make([]string, 0, len(c.cmds))
	for _, cmd := range c.cmds {
		names = append(names, cmd.aliases...)
	}
	sort.Strings(names)
	return names
}

func noCmdAvailable(t *Term, args string) error {
	return fmt.Errorf("command not available")
}

func (c *Commands) help(t *Term, args string) error {
	fmt.Fprintln(t.stdout, "The following commands are available:")
	w := tabwriter.NewWriter(t.stdout, 0, 8, 0, '-', 0)
	for _, cmd := range c.cmds {
		fmt.Fprintf(w, "    %s \t %s\n", strings.Join(cmd.aliases, "|"), cmd.helpMsg)
	}
	return w.Flush()
}

func (c *Commands) run(t *Term, args string) error {
	targetArgs, err := splitArgs(args)
	if err != nil {
		return err
	}
	status, err := c.session.Run(targetArgs)
	if err != nil {
		return err
	}
	printStatus(t, c.session, status)
	return nil
}

func (c *Commands) cont(t *Term, args string) error {
	status, err := c.session.Continue()
	if err != nil {
		return err
	}
	printStatus(t, c.session, status)
	return nil
}

func (c *Commands) stepInstruction(t *Term, args string) error {
	status, err := c.session.StepInstruction()
	if err != nil {
		return err
	}
	printStatus(t, c.session, status)
	return nil
}

func (c *Commands) breakpoint(t *Term, args string) error {
	if args == "" {
		return fmt.Errorf("argument required: break <*address|line|function>")
	}
	addr, err := c.session.SetBreakpoint(args)
	if err != nil {
		return fmt.Errorf("bad breakpoint %q: %v", args, err)
	}
	fmt.Fprintf(t.stdout, "Breakpoint set at %#x\n", addr)
	return nil
}

func (c *Commands) breakpoints(t *Term, args string) error {
	addrs := c.session.Breakpoints()
	if len(addrs) == 0 {
		fmt.Fprintln(t.stdout, "No breakpoints set.")
		return nil
	}
	for i, addr := range addrs {
		if fn, ok := c.session.Symbols().FunctionForPC(addr); ok {
			fmt.Fprintf(t.stdout, "%d\t%#x in %s\n", i+1, addr, fn)
		} else {
			fmt.Fprintf(t.stdout, "%d\t%#x\n", i+1, addr)
		}
	}
	return nil
}

func (c *Commands) clear(t *Term, args string) error {
	if args == "" {
		return fmt.Errorf("argument required: clear <*address|line|function>")
	}
	addr, err := c.session.ClearBreakpoint(args)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Breakpoint cleared at %#x\n", addr)
	return nil
}

func (c *Commands) backtrace(t *Term, args string) error {
	frames, err := c.session.Backtrace()
	if err != nil {
		return err
	}
	for i, frame := range frames {
		fmt.Fprintf(t.stdout, "%d\t%s\n", i, frame)
	}
	return nil
}

func quit(t *Term, args string) error {
	return ExitRequestError
}

func printStatus(t *Term, session *debugger.Session, status proc.Status) {
	switch st := status.(type) {
	case proc.Stopped:
		fmt.Fprintln(t.stdout, "Target "+session.FormatStop(st))
	case proc.Exited:
		fmt.Fprintln(t.stdout, "Target "+st.String())
	case proc.Signaled:
		fmt.Fprintln(t.stdout, "Target "+st.String())
	}
}

// splitArgs splits the arguments of the run command like a shell
// would, honoring quotes and escapes.
func splitArgs(args string) ([]string, error) {
	if args == "" {
		return nil, nil
	}
	v, err := argv.Argv(args, func(s string) (string, error) {
		return "", fmt.Errorf("backtick not supported in %q", s)
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line %q", args)
	}
	return v[0], nil
}
