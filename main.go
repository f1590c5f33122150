package main

import "audio-extract-service/cmd"

func main() {
	cmd.Execute()
}
