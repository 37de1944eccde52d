package main

import "os"

var counter int

//go:noinline
func increment() {
	counter++
}

//go:noinline
func leaf() {
	increment()
	increment()
}

//go:noinline
func middle() {
	leaf()
}

func main() {
	middle()
	os.Exit(counter)
}
