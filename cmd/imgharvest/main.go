package main

import "github.com/JakeFAU/imgharvest/cmd"

func main() {
	cmd.Execute()
}
