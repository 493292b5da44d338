package main

import "github.com/josephlewis42/shellby/cmd"

func main() {
	cmd.Execute()
}
