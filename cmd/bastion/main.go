package main

import "github.com/bastion-gate/bastion/cmd/bastion/cmd"

func main() {
	cmd.Execute()
}
