// Command schedsync keeps a shared scheduling database in sync between
// several people working on copies of it in a shared folder.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
