// Command bgapi-ports lists serial devices and marks the ones that look like
// a BLED112 dongle.
//
// Usage:
//
//	bgapi-ports [--bled112]
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/chaz8081/bgapi-host/internal/transport"
)

func main() {
	only := flag.Bool("bled112", false, "print only the first BLED112 port name")
	flag.Parse()

	if *only {
		p, err := transport.FindBLED112()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(p.Name)
		return
	}

	ports, err := transport.ListPorts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
		return
	}
	for _, p := range ports {
		mark := " "
		if p.IsBLED112() {
			mark = "*"
		}
		fmt.Printf("%s %s\n", mark, p)
	}
	fmt.Printf("\nDrivers: %v (* = BLED112)\n", transport.Drivers())
}
