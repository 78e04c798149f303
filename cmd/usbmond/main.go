// usbmond decides whether newly attached USB devices may be used.
package main

import (
	"os"

	"github.com/kvthweatt/USB-Monitor/cmd/usbmond/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
