package main

import (
	"github.com/agent-publisher/cmd/agent"
)

func main() {
	agent.Execute()
}
