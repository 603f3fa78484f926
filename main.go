package main

import "github.com/envbroker/envbroker/cmd"

func main() {
	cmd.Execute()
}
