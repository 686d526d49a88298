// agentpanel talks to chat models through one vendor-neutral interface.
package main

import (
	"github.com/alecthomas/kong"
)

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("agentpanel"),
		kong.Description("Vendor-neutral chat client for OpenAI, Claude, Qianwen, Ollama and OpenAI-compatible platforms"),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
