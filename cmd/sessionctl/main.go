// Command sessionctl drives the session core from a terminal: sign in, keep
// the session fresh, and call the backend with it.
package main

import "github.com/renovo-works/sessioncore/cmd/sessionctl/cmd"

func main() {
	cmd.Execute()
}
