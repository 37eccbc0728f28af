// Command hotpatch applies patch plans to Go programs running in an
// embedded interpreter.
package main

import "github.com/mouse-blink/hotpatch/cmd"

func main() {
	cmd.Execute()
}
