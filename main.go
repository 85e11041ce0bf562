package main

import "github.com/nextlevelbuilder/seance/cmd"

func main() {
	cmd.Execute()
}
