package proc

import (
	"os"
	"testing"

	sys "golang.org/x/sys/unix"

	protest "github.com/stackprobe/sdb/pkg/proc/test"
	"github.com/stackprobe/sdb/pkg/symbols"
)

func TestMain(m *testing.M) {
	os.Exit(protest.RunTestsWithFixtures(m))
}

func withTestProcess(name string, t *testing.T, fn func(inf *Inferior, fixture protest.Fixture)) {
	fixture := protest.BuildFixture(name)
	inf, err := Launch(fixture.Path, nil)
	if err != nil {
		t.Fatal("Launch():", err)
	}
	defer inf.Kill()

	fn(inf, fixture)
}

func loadSymbols(t *testing.T, fixture protest.Fixture) *symbols.Table {
	syms, err := symbols.New(fixture.Path)
	if err != nil {
		t.Fatal("symbols.New():", err)
	}
	return syms
}

func TestLaunch(t *testing.T) {
	withTestProcess("testprog", t, func(inf *Inferior, fixture protest.Fixture) {
		if inf.Pid() <= 0 {
			t.Errorf("expected valid pid, got %d", inf.Pid())
		}
		if inf.Exited() {
			t.Error("process should be alive after launch")
		}
		regs, err := inf.Registers()
		if err != nil {
			t.Fatal("Registers():", err)
		}
		if regs.PC() == 0 {
			t.Error("expected nonzero PC at initial stop")
		}
	})
}

func TestLaunchBadExecutable(t *testing.T) {
	_, err := Launch("/this/path/does/not/exist", nil)
	if err == nil {
		t.Fatal("expected error launching nonexistent executable")
	}
	if _, ok := err.(*LaunchError); !ok {
		t.Errorf("expected LaunchError, got %T", err)
	}
}

func TestExitClassification(t *testing.T) {
	withTestProcess("exitprog", t, func(inf *Inferior, fixture protest.Fixture) {
		if err := inf.Resume(); err != nil {
			t.Fatal("Resume():", err)
		}
		status, err := inf.Wait()
		if err != nil {
			t.Fatal("Wait():", err)
		}
		exited, ok := status.(Exited)
		if !ok {
			t.Fatalf("expected Exited, got %#v", status)
		}
		if exited.Code != 7 {
			t.Errorf("expected exit code 7, got %d", exited.Code)
		}
	})
}

func TestSignalClassification(t *testing.T) {
	withTestProcess("loopprog", t, func(inf *Inferior, fixture protest.Fixture) {
		if err := inf.Resume(); err != nil {
			t.Fatal("Resume():", err)
		}
		if err := sys.Kill(inf.Pid(), sys.SIGKILL); err != nil {
			t.Fatal("Kill():", err)
		}
		status, err := inf.Wait()
		if err != nil {
			t.Fatal("Wait():", err)
		}
		signaled, ok := status.(Signaled)
		if !ok {
			t.Fatalf("expected Signaled, got %#v", status)
		}
		if signaled.Signal != sys.SIGKILL {
			t.Errorf("expected SIGKILL, got %v", signaled.Signal)
		}
	})
}

func TestTrapClassification(t *testing.T) {
	withTestProcess("testprog", t, func(inf *Inferior, fixture protest.Fixture) {
		syms := loadSymbols(t, fixture)
		pc, ok := syms.PCForFunction("main.increment")
		if !ok {
			t.Fatal("could not resolve main.increment")
		}

		bps := NewBreakpointStore()
		if err := bps.Install(pc, inf); err != nil {
			t.Fatal("Install():", err)
		}

		status, err := inf.Continue(bps)
		if err != nil {
			t.Fatal("Continue():", err)
		}
		stopped, ok := status.(Stopped)
		if !ok {
			t.Fatalf("expected Stopped, got %#v", status)
		}
		if stopped.Signal != sys.SIGTRAP {
			t.Errorf("expected SIGTRAP, got %v", stopped.Signal)
		}
		if stopped.PC != pc+1 {
			t.Errorf("expected stop at %#x (one past the trap), got %#x", pc+1, stopped.PC)
		}
	})
}

// The ptrace memory primitives work at word granularity, so the patch
// must leave every byte except the trapped one untouched, at any
// offset within the word.
func TestBreakpointRoundTrip(t *testing.T) {
	withTestProcess("testprog", t, func(inf *Inferior, fixture protest.Fixture) {
		syms := loadSymbols(t, fixture)
		base, ok := syms.PCForFunction("main.increment")
		if !ok {
			t.Fatal("could not resolve main.increment")
		}

		for delta := uint64(0); delta < WordSize; delta++ {
			addr := base + delta
			aligned := addr &^ (WordSize - 1)

			before, err := inf.ReadWord(aligned)
			if err != nil {
				t.Fatal("ReadWord():", err)
			}

			bps := NewBreakpointStore()
			if err := bps.Install(addr, inf); err != nil {
				t.Fatal("Install():", err)
			}
			if !bps.IsInstalled(addr) {
				t.Fatalf("breakpoint at %#x not recorded", addr)
			}

			patched, err := inf.ReadWord(aligned)
			if err != nil {
				t.Fatal("ReadWord():", err)
			}
			shift := (addr - aligned) * 8
			if byte(patched>>shift) != 0xCC {
				t.Errorf("addr %#x: trap byte not present, word %#x", addr, patched)
			}
			if patched&^(uint64(0xff)<<shift) != before&^(uint64(0xff)<<shift) {
				t.Errorf("addr %#x: patch touched neighboring bytes: %#x != %#x", addr, patched, before)
			}

			if err := bps.Restore(addr, inf); err != nil {
				t.Fatal("Restore():", err)
			}
			after, err := inf.ReadWord(aligned)
			if err != nil {
				t.Fatal("ReadWord():", err)
			}
			if after != before {
				t.Errorf("addr %#x: round trip changed word %#x -> %#x", addr, before, after)
			}
		}
	})
}

func TestRestoreWithoutInstallIsNoop(t *testing.T) {
	withTestProcess("testprog", t, func(inf *Inferior, fixture protest.Fixture) {
		bps := NewBreakpointStore()
		if err := bps.Restore(0xdeadbeef, inf); err != nil {
			t.Errorf("restore of uninstalled address should be a no-op, got %v", err)
		}
	})
}

func TestInstallTwiceFails(t *testing.T) {
	withTestProcess("testprog", t, func(inf *Inferior, fixture protest.Fixture) {
		syms := loadSymbols(t, fixture)
		pc, _ := syms.PCForFunction("main.increment")

		bps := NewBreakpointStore()
		if err := bps.Install(pc, inf); err != nil {
			t.Fatal("Install():", err)
		}
		err := bps.Install(pc, inf)
		if _, ok := err.(BreakpointExistsError); !ok {
			t.Errorf("expected BreakpointExistsError, got %v", err)
		}
	})
}

// testprog increments a counter twice and exits with it as status.
// With a breakpoint on the increment function the target must stop
// twice and still exit with 2: each pass over the breakpoint executes
// the displaced instruction exactly once.
func TestStepOverBreakpoint(t *testing.T) {
	withTestProcess("testprog", t, func(inf *Inferior, fixture protest.Fixture) {
		syms := loadSymbols(t, fixture)
		pc, ok := syms.PCForFunction("main.increment")
		if !ok {
			t.Fatal("could not resolve main.increment")
		}

		bps := NewBreakpointStore()
		if err := bps.Install(pc, inf); err != nil {
			t.Fatal("Install():", err)
		}

		for hit := 0; hit < 2; hit++ {
			status, err := inf.Continue(bps)
			if err != nil {
				t.Fatal("Continue():", err)
			}
			stopped, ok := status.(Stopped)
			if !ok {
				t.Fatalf("hit %d: expected Stopped, got %#v", hit, status)
			}
			if stopped.PC != pc+1 {
				t.Errorf("hit %d: stopped at %#x, want %#x", hit, stopped.PC, pc+1)
			}
		}

		status, err := inf.Continue(bps)
		if err != nil {
			t.Fatal("Continue():", err)
		}
		exited, ok := status.(Exited)
		if !ok {
			t.Fatalf("expected Exited, got %#v", status)
		}
		if exited.Code != 2 {
			t.Errorf("expected exit code 2, got %d: breakpoint defeated the increment", exited.Code)
		}
	})
}

func TestStepOnce(t *testing.T) {
	withTestProcess("testprog", t, func(inf *Inferior, fixture protest.Fixture) {
		regs, err := inf.Registers()
		if err != nil {
			t.Fatal("Registers():", err)
		}
		before := regs.PC()

		bps := NewBreakpointStore()
		status, err := inf.StepOnce(bps)
		if err != nil {
			t.Fatal("StepOnce():", err)
		}
		stopped, ok := status.(Stopped)
		if !ok {
			t.Fatalf("expected Stopped, got %#v", status)
		}
		if stopped.PC == before {
			t.Error("single step made no progress")
		}
	})
}

// stackprog stops inside g with the call chain main.main -> f -> g.
// The walk must emit exactly those frames and terminate at main.main
// even though frame pointer data continues into the runtime.
func TestStacktrace(t *testing.T) {
	withTestProcess("stackprog", t, func(inf *Inferior, fixture protest.Fixture) {
		syms := loadSymbols(t, fixture)

		// Line 5 is the first statement of g, past the prologue.
		pc, ok := syms.PCForLine(5)
		if !ok {
			t.Fatal("could not resolve stackprog.go:5")
		}

		bps := NewBreakpointStore()
		if err := bps.Install(pc, inf); err != nil {
			t.Fatal("Install():", err)
		}
		status, err := inf.Continue(bps)
		if err != nil {
			t.Fatal("Continue():", err)
		}
		if _, ok := status.(Stopped); !ok {
			t.Fatalf("expected Stopped, got %#v", status)
		}

		frames, err := inf.Stacktrace(syms, "main.main", 64)
		if err != nil {
			t.Fatal("Stacktrace():", err)
		}

		want := []string{"main.g", "main.f", "main.main"}
		if len(frames) != len(want) {
			t.Fatalf("expected %d frames, got %d: %v", len(want), len(frames), frames)
		}
		for i, fn := range want {
			if frames[i].Function != fn {
				t.Errorf("frame %d: expected %s, got %s", i, fn, frames[i].Function)
			}
		}
	})
}

func TestStacktraceDepthLimit(t *testing.T) {
	withTestProcess("stackprog", t, func(inf *Inferior, fixture protest.Fixture) {
		syms := loadSymbols(t, fixture)
		pc, _ := syms.PCForLine(5)

		bps := NewBreakpointStore()
		if err := bps.Install(pc, inf); err != nil {
			t.Fatal("Install():", err)
		}
		if _, err := inf.Continue(bps); err != nil {
			t.Fatal("Continue():", err)
		}

		// An entry function that never appears forces the walk to give
		// up instead of running away on bogus linkage.
		_, err := inf.Stacktrace(syms, "no.such.function", 2)
		if err == nil {
			t.Error("expected depth limit or unwind error")
		}
	})
}

func TestKillReapsChild(t *testing.T) {
	fixture := protest.BuildFixture("loopprog")
	inf, err := Launch(fixture.Path, nil)
	if err != nil {
		t.Fatal("Launch():", err)
	}
	if err := inf.Kill(); err != nil {
		t.Fatal("Kill():", err)
	}
	if !inf.Exited() {
		t.Error("inferior should be marked exited after kill")
	}
	// Reaped: waiting again must fail with ECHILD.
	var ws sys.WaitStatus
	if _, err := sys.Wait4(inf.Pid(), &ws, sys.WNOHANG, nil); err != sys.ECHILD {
		t.Errorf("expected ECHILD after reap, got %v", err)
	}
}
