package main

import "github.com/okian/bitgalaxy/cmd/bitgalaxy/root"

func main() {
	root.Execute()
}
