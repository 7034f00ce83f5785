package main

import "github.com/tanq16/streamdl/cmd"

func main() {
	cmd.Execute()
}
