package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nkiryanov/chatr/internal/db"
	"github.com/nkiryanov/chatr/internal/models"
)

// NewRootCmd creates the root command for the chatr CLI.
func NewRootCmd(c *Config, stdin io.Reader) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "chatr",
		Short:        "chatr account and session management",
		SilenceUsage: true,
	}

	c.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newMigrateCmd(c),
		newRegisterCmd(c, stdin),
		newLoginCmd(c, stdin),
		newRefreshCmd(c),
		newWhoamiCmd(c),
		newLogoutCmd(c),
		newVerifyEmailCmd(c),
		newResendVerificationCmd(c),
		newPruneRevokedCmd(c),
	)

	return cmd
}

func newMigrateCmd(c *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  `Apply pending migrations to the postgres database. sqlite schema is applied on open.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !strings.HasPrefix(c.DatabaseDSN, "postgres") {
				return fmt.Errorf("migrate supports postgres only, got %q", c.DatabaseDSN)
			}
			if err := db.Migrate(c.DatabaseDSN); err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"status": "ok"})
		},
	}
}

func newRegisterCmd(c *Config, stdin io.Reader) *cobra.Command {
	var email, username string
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and print its first token pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd, stdin, passwordStdin)
			if err != nil {
				return err
			}

			return withApp(cmd, c, func(app *App) error {
				reg, err := app.Auth.Register(cmd.Context(), email, password, username)
				if err != nil {
					return err
				}
				return printJSON(cmd, newSessionOutput(reg.Session))
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&username, "username", "", "Account username")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read password from stdin")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}

func newLoginCmd(c *Config, stdin io.Reader) *cobra.Command {
	var email string
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Check credentials and print a new token pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd, stdin, passwordStdin)
			if err != nil {
				return err
			}

			return withApp(cmd, c, func(app *App) error {
				session, err := app.Auth.Login(cmd.Context(), email, password)
				if err != nil {
					return err
				}
				return printJSON(cmd, newSessionOutput(session))
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read password from stdin")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func newRefreshCmd(c *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <refresh-token>",
		Short: "Exchange a refresh token for a new token pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, c, func(app *App) error {
				session, err := app.Auth.Refresh(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, newSessionOutput(session))
			})
		},
	}
}

func newWhoamiCmd(c *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami <access-token>",
		Short: "Print the account an access token belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, c, func(app *App) error {
				user, err := app.Auth.Authenticate(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, newUserOutput(user))
			})
		},
	}
}

func newLogoutCmd(c *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "logout <access-token> [refresh-token]",
		Short: "Revoke tokens before they expire",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var refresh string
			if len(args) == 2 {
				refresh = args[1]
			}

			return withApp(cmd, c, func(app *App) error {
				if err := app.Auth.Logout(cmd.Context(), args[0], refresh); err != nil {
					return err
				}
				return printJSON(cmd, map[string]string{"status": "ok"})
			})
		},
	}
}

func newVerifyEmailCmd(c *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-email <token>",
		Short: "Confirm an email address with the token from the verification link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, c, func(app *App) error {
				result, err := app.Auth.ConfirmEmailVerification(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
}

func newResendVerificationCmd(c *Config) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "resend-verification",
		Short: "Send a fresh verification link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, c, func(app *App) error {
				if err := app.Auth.RequestEmailVerification(cmd.Context(), email); err != nil {
					return err
				}
				return printJSON(cmd, models.VerificationResult{
					Success: true,
					Message: "If the email is registered and not verified, a new link has been sent",
				})
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func newPruneRevokedCmd(c *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "prune-revoked",
		Short: "Delete denylist entries of tokens that expired anyway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, c, func(app *App) error {
				deleted, err := app.Auth.PruneRevoked(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int64{"deleted": deleted})
			})
		},
	}
}

// withApp builds the app, runs fn and closes the app even if fn fails
func withApp(cmd *cobra.Command, c *Config, fn func(app *App) error) (err error) {
	app, err := NewApp(cmd.Context(), c)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, app.Close())
	}()

	return fn(app)
}

// readPassword reads a line from stdin when asked to, otherwise prompts without echo
func readPassword(cmd *cobra.Command, stdin io.Reader, fromStdin bool) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("error while reading password. Err: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	f, ok := stdin.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return "", errors.New("stdin is not a terminal, use --password-stdin")
	}

	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	b, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("error while reading password. Err: %w", err)
	}
	return string(b), nil
}

type userOutput struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	Email      string     `json:"email"`
	Verified   bool       `json:"verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type sessionOutput struct {
	User                  userOutput `json:"user"`
	TokenType             string     `json:"token_type"`
	AccessToken           string     `json:"access_token"`
	AccessTokenExpiresAt  time.Time  `json:"access_token_expires_at"`
	RefreshToken          string     `json:"refresh_token"`
	RefreshTokenExpiresAt time.Time  `json:"refresh_token_expires_at"`
}

func newUserOutput(u models.User) userOutput {
	return userOutput{
		ID:         u.ID.String(),
		Username:   u.Username,
		Email:      u.Email,
		Verified:   u.Verified,
		VerifiedAt: u.VerifiedAt,
		CreatedAt:  u.CreatedAt,
	}
}

func newSessionOutput(s models.Session) sessionOutput {
	return sessionOutput{
		User:                  newUserOutput(s.User),
		TokenType:             "bearer",
		AccessToken:           s.Pair.Access.Value,
		AccessTokenExpiresAt:  s.Pair.Access.ExpiresAt,
		RefreshToken:          s.Pair.Refresh.Value,
		RefreshTokenExpiresAt: s.Pair.Refresh.ExpiresAt,
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
