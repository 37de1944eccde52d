// Package terminal implements the interactive prompt of sdb: line
// editing, history, completion and dispatch of user commands to the
// debug session.
package terminal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"

	"github.com/stackprobe/sdb/pkg/config"
	"github.com/stackprobe/sdb/pkg/debugger"
)

// Term represents the terminal running sdb.
type Term struct {
	session *debugger.Session
	conf    *config.Config
	prompt  string
	line    *liner.State
	cmds    *Commands
	dumb    bool
	stdin   *bufio.Reader
	stdout  io.Writer

	historyPath string
}

// New returns a new Term attached to the given session.
func New(session *debugger.Session, conf *config.Config) *Term {
	cmds := DebugCommands(session)
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}
	if conf == nil {
		conf = &config.Config{}
	}

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb" || !isatty.IsTerminal(os.Stdout.Fd())

	return &Term{
		session: session,
		conf:    conf,
		prompt:  "(sdb) ",
		line:    liner.NewLiner(),
		cmds:    cmds,
		dumb:    dumb,
		stdin:   bufio.NewReader(os.Stdin),
		stdout:  os.Stdout,
	}
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
}

// Run reads and dispatches commands until the user quits, returning
// the process exit status.
func (t *Term) Run() (int, error) {
	defer t.Close()

	t.line.SetWordCompleter(t.complete)

	t.historyPath, _ = config.HistoryFilePath()
	if t.historyPath != "" {
		if f, err := os.Open(t.historyPath); err == nil {
			t.line.ReadHistory(f)
			f.Close()
		}
	}

	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == liner.ErrPromptAborted {
				fmt.Fprintln(t.stdout, `Type "quit" to exit`)
				continue
			}
			if err == io.EOF {
				fmt.Fprintln(t.stdout)
				return t.handleExit()
			}
			return 1, fmt.Errorf("prompt for input failed: %v", err)
		}
		if strings.TrimSpace(cmdstr) == "" {
			continue
		}

		cmdstr, args := parseCommand(cmdstr)
		cmd := t.cmds.Find(cmdstr)
		if err := cmd(t, args); err != nil {
			if err == ExitRequestError {
				return t.handleExit()
			}
			if err == debugger.ErrNoInferior {
				fmt.Fprintln(t.stdout, "Nothing running!")
				continue
			}
			fmt.Fprintf(os.Stderr, "Command failed: %v\n", err)
		}
	}
}

func (t *Term) handleExit() (int, error) {
	t.saveHistory()
	if t.session.Running() {
		t.session.TerminateSession()
	}
	return 0, nil
}

func (t *Term) promptForInput() (string, error) {
	if t.dumb {
		fmt.Fprint(t.stdout, t.prompt)
		line, err := t.stdin.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSuffix(line, "\n"), nil
	}

	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}
	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
		t.saveHistory()
	}
	return l, nil
}

// saveHistory persists the command history after every accepted line,
// so it survives a session ended by a fatal error.
func (t *Term) saveHistory() {
	if t.historyPath == "" {
		return
	}
	f, err := os.Create(t.historyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save history file at %s: %v\n", t.historyPath, err)
		return
	}
	if _, err := t.line.WriteHistory(f); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save history file at %s: %v\n", t.historyPath, err)
	}
	f.Close()
}

// complete implements tab completion: command names at the start of
// the line, target function names as the argument of the breakpoint
// commands.
func (t *Term) complete(line string, pos int) (head string, completions []string, tail string) {
	start := strings.LastIndex(line[:pos], " ")
	if start < 0 {
		match := line
		tail = line[pos:]
		for _, n := range t.cmds.Names() {
			if strings.HasPrefix(n, strings.ToLower(match)) {
				completions = append(completions, n)
			}
		}
		return "", completions, tail
	}

	first, _ := parseCommand(line)
	switch first {
	case "break", "b", "clear":
		head = line[:start+1]
		match := line[start+1 : pos]
		tail = line[pos:]
		completions = t.session.Symbols().FunctionsWithPrefix(match)
		return head, completions, tail
	case "help", "h":
		head = line[:start+1]
		match := line[start+1 : pos]
		tail = line[pos:]
		for _, n := range t.cmds.Names() {
			if strings.HasPrefix(n, strings.ToLower(match)) {
				completions = append(completions, n)
			}
		}
		return head, completions, tail
	}
	return "", nil, ""
}

func parseCommand(cmdstr string) (string, string) {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	if len(vals) == 1 {
		return vals[0], ""
	}
	return vals[0], strings.TrimSpace(vals[1])
}
