package main

import "github.com/mcoot/cryptoquiz-go/internal/cli"

func main() {
	cli.Execute()
}
