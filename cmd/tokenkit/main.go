// Package main is the entry point for the tokenkit CLI.
package main

import "github.com/basecamp/tokenkit/internal/cli"

func main() {
	cli.Execute()
}
