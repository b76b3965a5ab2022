package main

import "github.com/nextlevelbuilder/pollclaw/cmd"

func main() {
	cmd.Execute()
}
