// benchctx provisions benchmark resource contexts and tears them down.
package main

func main() {
	Execute()
}
