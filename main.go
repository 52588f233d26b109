package main

import "example.com/backstage/services/webhooks/cmd"

func main() {
	cmd.Execute()
}
