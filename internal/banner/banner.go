// Package banner renders the startup banner.
package banner

import "fmt"

const art = `
  _
 | |__  ____ _ __
 | '_ \|_  /| '__|
 | | | |/ / | |
 |_| |_/___||_|
`

// Banner returns the banner text for version.
func Banner(version string) string {
	return fmt.Sprintf("%s  handwriting recognizer %s\n\n", art, version)
}
