package main

import (
	"log"

	"github.com/muxlink/muxlink/pkg/muxlinkcmd"
)

func main() {
	if err := muxlinkcmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
