package main

import "pulse-alerts/internal/cli"

func main() {
	cli.Execute()
}
