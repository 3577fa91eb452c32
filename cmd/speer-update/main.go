package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/skypeer/cmd/speer-update/app"
)

func main() {
	app.NewApp().Run()
}
