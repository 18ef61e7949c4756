package main

import "github.com/heathcliff26/buildhook/pkg/server"

func main() {
	server.Execute()
}
