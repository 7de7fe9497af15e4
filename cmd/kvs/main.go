// Command kvs operates directly on a local bitcask store: set, get,
// and rm subcommands against the current directory, grounded on the
// original program's src/bin/kvs.rs (subcommand shape, exit codes), with
// a plain os.Args switch and no flag parsing.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/aurorakv/kvs/bitcask"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  kvs set <key> <value>\n")
	fmt.Fprintf(os.Stderr, "  kvs get <key>\n")
	fmt.Fprintf(os.Stderr, "  kvs rm <key>\n")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	dir, err := os.Getwd()
	if err != nil {
		log.Fatalf("could not determine working directory: %v", err)
	}

	db, err := bitcask.Open(dir)
	if err != nil {
		log.Fatalf("could not open the database: %v", err)
	}
	defer db.Close()

	switch os.Args[1] {
	case "set":
		if len(os.Args) != 4 {
			usage()
		}
		if err := db.Set(os.Args[2], os.Args[3]); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

	case "get":
		if len(os.Args) != 3 {
			usage()
		}
		v, ok, err := db.Get(os.Args[2])
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		if !ok {
			fmt.Println("Key not found")
			return
		}
		fmt.Println(v)

	case "rm":
		if len(os.Args) != 3 {
			usage()
		}
		if err := db.Remove(os.Args[2]); err != nil {
			fmt.Println("Key not found")
			os.Exit(1)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
	}
}
