package main

import "github.com/ghwns9652/bedrock-keeper/cmd/bedrock-keeper/cmd"

func main() {
	cmd.Execute()
}
