package main

import "github.com/example/trip-allocation/cmd/allocator/command"

func main() {
	command.Execute()
}
