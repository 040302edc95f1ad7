// vscsync exports IDE SQLite state databases to JSON/JSONL files and
// keeps the exports current as the databases change.
package main

func main() {
	Execute()
}
