package main

import (
	"os"

	"github.com/soundprediction/go-graphmerge/cmd/graphmerge"
)

func main() {
	if err := graphmerge.Execute(); err != nil {
		os.Exit(1)
	}
}
