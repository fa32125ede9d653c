package main

import "xwappalyzer/cmd"

func main() {
	cmd.Execute()
}
