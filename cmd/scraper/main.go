// Package main provides the bookharvest command line.
//
// Usage:
//
//	bookharvest scrape [--concurrency 10] [--no-save]
//	bookharvest schedule [--at 19:00]
//	bookharvest version
package main

func main() {
	Execute()
}
