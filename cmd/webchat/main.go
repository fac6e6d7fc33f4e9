package main

import (
	"log"

	"github.com/DangeRika/Web-chat/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
