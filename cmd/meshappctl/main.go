// Meshappctl is the CLI client for the meshapp daemon.
package main

import "github.com/hro-mesh/meshapp/cmd/meshappctl/commands"

func main() {
	commands.Execute()
}
