// fmctl administers file manager accounts from the command line.
//
// It reads the same environment as the server (USERS_DIR, SITE_DIR,
// CREDENTIAL_BACKEND, DATABASE_URL, PASSWORD_HASHER) so accounts it
// creates are immediately usable by a running server.
package main

import (
	"fmt"
	"os"

	"github.com/fruitsalade/filemanager/cmd/fmctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
