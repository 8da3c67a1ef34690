package main

import "github.com/ozanturksever/go-singleton/cmd/go-singleton/cmd"

func main() {
	cmd.Execute()
}
