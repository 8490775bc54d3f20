package main

import "github.com/notargets/godefl/cmd"

func main() {
	cmd.Execute()
}
