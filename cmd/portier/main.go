package main

import (
	"os"

	"github.com/portierproxy/portier/internal/app"
)

func main() {
	os.Exit(app.Main(os.Args))
}
