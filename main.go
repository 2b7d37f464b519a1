package main

import "github.com/lepinkainen/bookmeta/cmd"

var execute = cmd.Execute

func main() {
	execute()
}
