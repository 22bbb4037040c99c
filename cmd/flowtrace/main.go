package main

import "github.com/ppiankov/flowtrace/internal/cli"

func main() {
	cli.Execute()
}
