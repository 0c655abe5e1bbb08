package main

import "github.com/towerops/tower/internal/cmd"

func main() {
	cmd.Execute()
}
