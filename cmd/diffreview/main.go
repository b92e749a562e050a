package main

import (
	"os"

	"github.com/statemade/diffreview/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
