package main

import "QFMBot/cmd"

func main() {
	cmd.Execute()
}
