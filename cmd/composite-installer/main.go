package main

import "github.com/oshokin/composite-installer/cmd/composite-installer/cmd"

func main() {
	cmd.Execute()
}
