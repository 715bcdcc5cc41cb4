package main

import "github.com/refset/supportqueue/internal/cli"

func main() {
	cli.Execute()
}
