package main

import "soilscope/cmd"

func main() {
	cmd.Execute()
}
