// Command csvsync imports CSV files into the database and exports tables
// back to CSV.
package main

import (
	"os"

	"github.com/JonMunkholm/csvsync/cmd/csvsync/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
