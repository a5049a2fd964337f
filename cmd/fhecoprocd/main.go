package main

import (
	"log"

	coprocessord "fhecoproc/services/coprocessord"
)

func main() {
	if err := coprocessord.Main(); err != nil {
		log.Fatalf("fhecoprocd: %v", err)
	}
}
