package main

import "github.com/nathandonaldson/storytriage/cmd/storytriage/commands"

func main() {
	commands.Execute()
}
