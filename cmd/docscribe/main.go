package main

import "github.com/devbush/docscribe/internal/adapters/cli"

func main() {
	cli.Execute()
}
