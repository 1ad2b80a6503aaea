package common

import (
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner
func PrintBanner(version string) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorCyan).
		SetBold(true)

	b.PrintTopLine()
	b.PrintCenteredText("REELFETCH")
	b.PrintCenteredText("Video page resolver and downloader")
	b.PrintSeparatorLine()
	b.PrintKeyValue("Version", version, 10)
	b.PrintBottomLine()
}
