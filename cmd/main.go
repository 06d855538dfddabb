package main

import "github.com/Cyvadra/tv-alert-relay/internal/cli"

func main() {
	cli.Execute()
}
