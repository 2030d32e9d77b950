// Kernwire -- conformance harness for a kernel's FUSE and NETLINK_ROUTE
// wire-protocol implementations. The harness plays the userspace peer on
// both transports and validates the kernel's side of each exchange.
package main

import "github.com/dantte-lp/kernwire/cmd/kernwire/commands"

func main() {
	commands.Execute()
}
