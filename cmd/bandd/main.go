// Command bandd is band's daemon entrypoint: it wires configuration,
// the Engine, and the HTTP API behind the "band" cobra CLI
// (SPEC_FULL.md §4.10).
package main

import "github.com/band-engine/band/internal/cli"

func main() {
	cli.Execute()
}
