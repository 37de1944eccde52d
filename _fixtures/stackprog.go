package main

//go:noinline
func g(n int) int {
	n = n + 1
	return n
}

//go:noinline
func f(n int) int {
	return g(n) + 1
}

func main() {
	f(0)
}
