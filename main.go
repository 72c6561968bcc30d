package main

import "sheetview/cmd"

func main() {
	cmd.Execute()
}
