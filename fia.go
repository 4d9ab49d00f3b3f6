package main

import (
	"github.com/fia-cloud/fia/cmd"
	"github.com/fia-cloud/fia/pkg/env"
	"github.com/fia-cloud/fia/pkg/log"
)

func main() {
	if err := env.Process(); err != nil {
		log.Fatal("environment failure", "error", err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal("fia failure", "error", err)
	}
}
