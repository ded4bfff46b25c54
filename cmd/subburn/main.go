package main

import "subburn/internal/cli"

func main() {
	cli.Main()
}
