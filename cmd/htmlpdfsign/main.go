package main

import "github.com/digitorus/htmlpdfsign/cli"

var version = "dev"

func main() {
	cli.Execute(version)
}
