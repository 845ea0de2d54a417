package main

import (
	"github.com/decision-forest/cmd/cli/cmd"
)

func main() {
	cmd.Execute()
}
