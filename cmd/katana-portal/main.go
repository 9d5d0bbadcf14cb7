package main

import (
	"os"

	"github.com/PabloGalante/katana-portal/internal/observability"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		observability.Logger().Error("katana-portal exited", "error", err)
		os.Exit(1)
	}
}
