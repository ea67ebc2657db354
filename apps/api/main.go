package main

import (
	"github.com/smallbiznis/settlr/internal/app"
	"go.uber.org/fx"
)

func main() {
	fx.New(app.API, app.Role("api")).Run()
}
