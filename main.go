package main

import "github.com/ValentinKolb/remoting/cmd"

func main() {
	cmd.Execute()
}
