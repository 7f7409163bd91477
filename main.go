package main

import "library-circulation/commands"

func main() {
	commands.Execute()
}
