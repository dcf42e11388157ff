// livectl talks to peers through a live relay from the command line: it can
// call a peer's method, emit a notification, or serve the built-in Echo
// service until interrupted.
package main

func main() {
	Execute()
}
