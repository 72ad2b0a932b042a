package main

import (
	"os"

	_ "github.com/tanpawarit/chative-tutor/pkg/logger/autoload"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
