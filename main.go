package main

import "github.com/agentbrowser/bap/cmd"

func main() {
	cmd.Execute()
}
