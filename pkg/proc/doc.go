// Package proc provides functions for launching, attaching to and
// manipulating a traced child process during a debug session.
//
// The package drives a single inferior process through ptrace(2). All
// operations must be performed from the same OS thread that launched or
// attached to the inferior; callers are expected to lock the main
// goroutine to its thread with runtime.LockOSThread before creating an
// Inferior.
//
// Only linux/amd64 targets with frame pointers and a fixed (non-PIE)
// load address are supported. Position independent executables with
// per-run address randomization will not match breakpoint addresses
// recorded across restarts.
package proc
