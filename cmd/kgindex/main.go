// Command kgindex computes importance metrics over an N-Triples graph,
// builds virtual document templates from them and indexes the graph's
// entities into a search connector.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
