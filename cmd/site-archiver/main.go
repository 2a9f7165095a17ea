package main

import (
	cmd "github.com/rohmanhakim/site-archiver/internal/cli"
)

func main() {
	cmd.Execute()
}
