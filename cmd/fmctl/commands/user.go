package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fruitsalade/filemanager/internal/errs"
)

func newUserCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
		Long: `Manage file manager user accounts.

Examples:
  # Create a user, prompting for the password
  fmctl user add alice

  # Check a password non-interactively
  echo "secret" | fmctl user verify alice

  # Test whether an account exists
  fmctl user exists alice`,
	}
	cmd.AddCommand(newUserAddCmd(g), newUserVerifyCmd(g), newUserExistsCmd(g))
	return cmd
}

func newUserAddCmd(g *globalFlags) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a user and provision their root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := args[0]
			pw, err := passwordFrom(cmd, password, "Password: ")
			if err != nil {
				return err
			}

			store, err := g.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			u, err := store.Register(cmd.Context(), username, pw)
			if err != nil {
				if errors.Is(err, errs.ErrAlreadyExists) {
					return fmt.Errorf("user %q already exists", username)
				}
				return err
			}
			root, err := store.Root(cmd.Context(), u.Username)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %q created (root %s)\n", u.Username, root.Path())
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when omitted)")
	return cmd
}

func newUserVerifyCmd(g *globalFlags) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "verify <username>",
		Short: "Check a password against the stored hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := passwordFrom(cmd, password, "Password: ")
			if err != nil {
				return err
			}

			store, err := g.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if !store.Verify(cmd.Context(), args[0], pw) {
				return errs.ErrInvalidCredentials
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Password OK")
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when omitted)")
	return cmd
}

func newUserExistsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <username>",
		Short: "Report whether a user exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := g.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if !store.Exists(cmd.Context(), args[0]) {
				return fmt.Errorf("user %q: %w", args[0], errs.ErrNotFound)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %q exists\n", args[0])
			return nil
		},
	}
}

// passwordFrom returns the flag value, or reads a password from the
// command's input: without echo on a terminal, one line otherwise.
func passwordFrom(cmd *cobra.Command, flagValue, prompt string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("password is required")
	}
	return pw, nil
}
