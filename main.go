package main

import "buybox-watcher/internal/cli"

func main() {
	cli.Execute()
}
