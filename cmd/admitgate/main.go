// Command admitgate runs the tiered admission control gateway.
package main

import "github.com/Sentinel-Gate/admitgate/cmd/admitgate/cmd"

func main() {
	cmd.Execute()
}
