package main

import "agentrag/cmd"

func main() {
	cmd.Execute()
}
