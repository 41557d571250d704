package main

import "github.com/ajy121650/mailer-back/internal/cli"

func main() {
	cli.Execute()
}
