package main

import "github.com/tanq16/slicedl/cmd"

func main() {
	cmd.Execute()
}
