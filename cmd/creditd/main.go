// Command creditd runs the email-validation credit service.
package main

import "github.com/emailfixer/creditd/internal/cli"

func main() {
	cli.Execute()
}
