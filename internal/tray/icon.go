package tray

import (
	_ "embed"
	"runtime"
)

//go:embed icon.png
var iconPNG []byte

//go:embed icon.ico
var iconICO []byte

func icon() []byte {
	if runtime.GOOS == "windows" {
		return iconICO
	}
	return iconPNG
}
