package main

import "github.com/iliyamo/resort-booking/internal/cli"

func main() {
	cli.Execute()
}
