// Command stsctl is the operator CLI. Run `stsctl --help` for the commands.
package main

import "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/cli"

func main() {
	cli.Execute()
}
