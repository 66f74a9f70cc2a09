package main

import "flashpipe/cmd/cmd"

func main() {
	cmd.Execute()
}
