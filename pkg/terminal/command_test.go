package terminal

import (
	"bytes"
	"reflect"
	"sort"
	"strings"
	"testing"
)

func TestCommandDefault(t *testing.T) {
	cmds := &Commands{}
	cmd := cmds.Find("non-existent-command")
	if err := cmd(nil, ""); err == nil || err.Error() != "command not available" {
		t.Fatalf("expected 'command not available', got %v", err)
	}
}

func TestCommandQuitAliases(t *testing.T) {
	cmds := DebugCommands(nil)
	for _, name := range []string{"quit", "q", "exit"} {
		cmd := cmds.Find(name)
		if err := cmd(nil, ""); err != ExitRequestError {
			t.Errorf("%s: expected ExitRequestError, got %v", name, err)
		}
	}
}

func TestCommandAliasesResolveToSameFunction(t *testing.T) {
	cmds := DebugCommands(nil)
	for _, pair := range [][2]string{
		{"break", "b"},
		{"continue", "c"},
		{"backtrace", "bt"},
		{"breakpoints", "bp"},
		{"step-instruction", "si"},
		{"help", "h"},
		{"run", "r"},
	} {
		long := reflect.ValueOf(cmds.Find(pair[0])).Pointer()
		short := reflect.ValueOf(cmds.Find(pair[1])).Pointer()
		if long != short {
			t.Errorf("%s and %s should dispatch to the same function", pair[0], pair[1])
		}
	}
}

func TestCommandMerge(t *testing.T) {
	cmds := DebugCommands(nil)
	cmds.Merge(map[string][]string{"break": {"stop-at"}})

	breakFn := reflect.ValueOf(cmds.Find("break")).Pointer()
	aliasFn := reflect.ValueOf(cmds.Find("stop-at")).Pointer()
	if breakFn != aliasFn {
		t.Error("merged alias should dispatch like the original command")
	}
}

func TestCommandNamesSorted(t *testing.T) {
	names := DebugCommands(nil).Names()
	if !sort.StringsAreSorted(names) {
		t.Errorf("names not sorted: %v", names)
	}
	found := false
	for _, n := range names {
		if n == "backtrace" {
			found = true
		}
	}
	if !found {
		t.Error("backtrace missing from command names")
	}
}

func TestHelpListsEveryCommand(t *testing.T) {
	cmds := DebugCommands(nil)
	var buf bytes.Buffer
	term := &Term{cmds: cmds, stdout: &buf}

	if err := cmds.help(term, ""); err != nil {
		t.Fatal("help:", err)
	}
	out := buf.String()
	for _, name := range []string{"run", "continue", "break", "backtrace", "quit"} {
		if !strings.Contains(out, name) {
			t.Errorf("help output missing %q", name)
		}
	}
}

func TestParseCommand(t *testing.T) {
	for _, tc := range []struct {
		in        string
		cmd, args string
	}{
		{"break main.main", "break", "main.main"},
		{"  continue  ", "continue", ""},
		{"run arg1 arg2", "run", "arg1 arg2"},
		{"quit", "quit", ""},
	} {
		cmd, args := parseCommand(tc.in)
		if cmd != tc.cmd || args != tc.args {
			t.Errorf("parseCommand(%q) = (%q, %q), want (%q, %q)", tc.in, cmd, args, tc.cmd, tc.args)
		}
	}
}

func TestSplitArgs(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"one two", []string{"one", "two"}},
		{`one "two three"`, []string{"one", "two three"}},
		{`'a b' c`, []string{"a b", "c"}},
	} {
		got, err := splitArgs(tc.in)
		if err != nil {
			t.Errorf("splitArgs(%q): %v", tc.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("splitArgs(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSplitArgsRejectsBacktick(t *testing.T) {
	if _, err := splitArgs("echo `whoami`"); err == nil {
		t.Error("backtick expansion should be rejected")
	}
}
