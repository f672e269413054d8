package main

import "github.com/ppiankov/sniffer/internal/cli"

func main() {
	cli.Execute()
}
