package main

import "github.com/brensch/siardsearch/cmd"

func main() {
	cmd.Execute()
}
