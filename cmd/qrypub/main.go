package main

import (
	"qrypub/internal/client/cli"
)

// HubAddr is set at build time with -ldflags "-X main.HubAddr=hub.example.com".
var HubAddr string

func main() {
	cli.Init(HubAddr)
	cli.Execute()
}
