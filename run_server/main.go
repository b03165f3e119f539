package main

import (
	"log"
	"os"

	"aoi/server"
)

func main() {
	if err := server.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
