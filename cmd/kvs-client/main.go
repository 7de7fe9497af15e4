// Command kvs-client is a one-connection-per-invocation client for
// kvs-server, grounded on the original program's src/bin/kvs-client.rs
// subcommand shape.
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/aurorakv/kvs/internal/client"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  kvs-client [--addr HOST:PORT] set <key> <value>\n")
	fmt.Fprintf(os.Stderr, "  kvs-client [--addr HOST:PORT] get <key>\n")
	fmt.Fprintf(os.Stderr, "  kvs-client [--addr HOST:PORT] rm <key>\n")
	os.Exit(1)
}

func main() {
	addr := flag.String("addr", "127.0.0.1:13131", "kvs-server address")
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		usage()
	}

	c, err := client.Dial(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not connect to %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer c.Close()

	switch args[0] {
	case "set":
		if len(args) != 3 {
			usage()
		}
		key, value := args[1], args[2]
		if err := c.Set(key, value); err != nil {
			fmt.Printf("Set key: %s, value: %s error: %v\n", key, value, err)
			os.Exit(1)
		}
		fmt.Printf("Set key: %s, value: %s success!\n", key, value)

	case "get":
		if len(args) != 2 {
			usage()
		}
		key := args[1]
		v, ok, err := c.Get(key)
		if err != nil {
			fmt.Printf("Get key: %s error: %v\n", key, err)
			os.Exit(1)
		}
		if !ok {
			fmt.Printf("Get key: %s not found\n", key)
			return
		}
		fmt.Printf("Get key: %s, value: %s success!\n", key, v)

	case "rm":
		if len(args) != 2 {
			usage()
		}
		key := args[1]
		if err := c.Remove(key); err != nil {
			fmt.Fprintf(os.Stderr, "Remove key: %s error: %v\n", key, err)
			os.Exit(1)
		}
		fmt.Printf("Remove key: %s success!\n", key)

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage()
	}
}
