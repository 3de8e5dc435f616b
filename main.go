package main

import "github.com/rcowellai/old-recording-app/cmd"

func main() {
	cmd.Execute()
}
