package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/authkeeper/internal/app"
	"github.com/florianilch/authkeeper/internal/autherr"
	"github.com/florianilch/authkeeper/internal/session"
)

var errNotSignedIn = errors.New("not signed in, run 'authkeeper login' first")

func credentialFlags(withName bool) []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:  "email",
			Usage: "account email",
		},
		&cli.StringFlag{
			Name:    "password",
			Usage:   "account password (prompted when omitted on a terminal)",
			Sources: cli.EnvVars("AUTHKEEPER_PASSWORD"),
		},
	}
	if withName {
		flags = append([]cli.Flag{&cli.StringFlag{Name: "name", Usage: "display name"}}, flags...)
	}
	return flags
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "sign in with email and password",
		Flags: credentialFlags(false),
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
			out := cmd.Root().Writer
			in := bufio.NewReader(os.Stdin)

			email, err := valueOrPrompt(cmd.String("email"), "Email", in, out)
			if err != nil {
				return err
			}
			password, err := passwordOrPrompt(cmd.String("password"), out)
			if err != nil {
				return err
			}

			s, err := a.SignIn(ctx, email, password)
			if errors.Is(err, autherr.ErrAuthRejected) {
				return errors.New("sign-in rejected: check email and password")
			}
			if err != nil {
				return fmt.Errorf("sign-in failed: %w", err)
			}
			printSession(out, s)
			return nil
		}),
	}
}

func registerCommand() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "create an account and sign in",
		Flags: credentialFlags(true),
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
			out := cmd.Root().Writer
			in := bufio.NewReader(os.Stdin)

			name, err := valueOrPrompt(cmd.String("name"), "Name", in, out)
			if err != nil {
				return err
			}
			email, err := valueOrPrompt(cmd.String("email"), "Email", in, out)
			if err != nil {
				return err
			}
			password, err := passwordOrPrompt(cmd.String("password"), out)
			if err != nil {
				return err
			}

			s, err := a.SignUp(ctx, name, email, password)
			if err != nil {
				return fmt.Errorf("registration failed: %w", err)
			}
			printSession(out, s)
			return nil
		}),
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "sign out and forget stored credentials",
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
			err := a.SignOut(ctx)
			fmt.Fprintln(cmd.Root().Writer, "signed out")
			if err != nil {
				return fmt.Errorf("stored credentials may remain: %w", err)
			}
			return nil
		}),
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show the restored session",
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
			s, err := a.Restore(ctx)
			if err != nil {
				return err
			}
			printSession(cmd.Root().Writer, s)
			return nil
		}),
	}
}

func whoamiCommand() *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "fetch the signed-in user's profile from the backend",
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
			s, err := a.Restore(ctx)
			if err != nil {
				return err
			}
			if !s.IsAuthenticated {
				return errNotSignedIn
			}
			// Restore already fetched the profile unless that fetch failed
			if s.User != nil {
				printUser(cmd.Root().Writer, s.User)
				return nil
			}

			user, err := a.Profile(ctx)
			if errors.Is(err, autherr.ErrAuthRejected) {
				return fmt.Errorf("backend rejected the stored credentials: %w", err)
			}
			if err != nil {
				return err
			}
			printUser(cmd.Root().Writer, user)
			return nil
		}),
	}
}

func printSession(w io.Writer, s session.Session) {
	if !s.IsAuthenticated {
		fmt.Fprintln(w, "signed out")
		return
	}
	if s.User == nil {
		fmt.Fprintln(w, "signed in (profile unavailable)")
		return
	}
	fmt.Fprint(w, "signed in as ")
	printUser(w, s.User)
}

func printUser(w io.Writer, u *session.UserIdentity) {
	fmt.Fprintf(w, "%s <%s> (id %s)\n", u.Name, u.Email, u.ID)
}
