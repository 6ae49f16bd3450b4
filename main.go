package main

import "farmhand/cmd"

func main() {
	cmd.Execute()
}
