package main

import "github.com/LENAX/statflow/pkg/cli/cmd"

func main() {
	cmd.Execute()
}
