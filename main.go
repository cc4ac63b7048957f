package main

import "github.com/nextlevelbuilder/cliprelay/cmd"

func main() {
	cmd.Execute()
}
