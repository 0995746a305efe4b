package main

import (
	"fmt"
	"os"

	"github.com/soyeahso/easiwork/internal/cli"
	"github.com/tillberg/autorestart"
)

func main() {
	if os.Getenv("EASIWORK_AUTORESTART") == "1" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "easiwork:", err)
		os.Exit(1)
	}
}
