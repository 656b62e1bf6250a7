package main

import (
	"github.com/Dallasson/lingo-connect-chatrooms/cmd"
	"github.com/Dallasson/lingo-connect-chatrooms/internal/logging"
)

func main() {
	// Initialize logging
	logging.Init()
	cmd.Execute()
}
