package main

import "github.com/nextlevelbuilder/goclaw/cmd"

func main() {
	cmd.Execute()
}
