package main

import (
	"github.com/robotalks/audiolink/pkg/cli/sh"

	_ "github.com/robotalks/audiolink/pkg/cli/cmds/audio"
)

//go-build: CGO_ENABLED=0

func init() {
	sh.SetupFlags()
}

func main() {
	sh.Main()
}
