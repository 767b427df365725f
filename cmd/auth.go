package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"seatctl/model"
	"seatctl/service"
	"seatctl/store"
)

var errNotSignedIn = fmt.Errorf("not signed in, run \"%s login\"", appName)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and remember the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup(false)
		if err != nil {
			return err
		}
		defer env.close()

		email, _ := cmd.Flags().GetString("email")
		if email == "" {
			if email, err = promptEmail(); err != nil {
				return err
			}
		}
		password, err := promptPassword("Password")
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if err := env.client.Login(ctx, service.Credentials{Email: email, Password: password}); err != nil {
			if service.IsAuthExpired(err) || service.StatusOf(err) == 400 {
				return errors.New("invalid email or password")
			}
			return err
		}
		if err := store.SaveCookies(env.client.BaseURL(), env.client.SessionCookies()); err != nil {
			env.logger.Warn("saving credentials", zap.Error(err))
		}

		profile, err := env.client.GetProfile(ctx)
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Signed in.")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s <%s>.\n", profile.UserName, profile.Email)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the saved session",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup(false)
		if err != nil {
			return err
		}
		defer env.close()

		if err := env.client.Logout(cmd.Context()); err != nil {
			env.logger.Warn("server logout failed", zap.Error(err))
		}
		if err := store.ClearCookies(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
		return nil
	},
}

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup(false)
		if err != nil {
			return err
		}
		defer env.close()

		name, err := (&promptui.Prompt{
			Label:    "User name",
			Validate: required("user name"),
		}).Run()
		if err != nil {
			return err
		}
		email, err := promptEmail()
		if err != nil {
			return err
		}
		password, err := promptPassword("Password")
		if err != nil {
			return err
		}
		confirm, err := promptPassword("Repeat password")
		if err != nil {
			return err
		}
		if password != confirm {
			return errors.New("passwords do not match")
		}

		id, err := env.client.Signup(cmd.Context(), service.SignupRequest{
			UserName: strings.TrimSpace(name),
			Email:    email,
			Password: password,
		})
		if err != nil {
			if service.IsConflict(err) {
				return errors.New("an account with that email already exists")
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Account %d created. Run \"%s login\" to sign in.\n", id, appName)
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup(false)
		if err != nil {
			return err
		}
		defer env.close()

		profile, err := requireProfile(cmd.Context(), env)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s <%s> (%s)\n", profile.UserName, profile.Email, strings.ToLower(profile.UserRole))
		return nil
	},
}

func init() {
	loginCmd.Flags().String("email", "", "account email")
}

// requireProfile turns a credentials rejection into a hint to sign in.
func requireProfile(ctx context.Context, env *cliEnv) (model.UserProfile, error) {
	profile, err := env.client.GetProfile(ctx)
	if err != nil {
		if service.IsAuthExpired(err) {
			return model.UserProfile{}, errNotSignedIn
		}
		return model.UserProfile{}, err
	}
	return profile, nil
}

func promptEmail() (string, error) {
	email, err := (&promptui.Prompt{
		Label: "Email",
		Validate: func(input string) error {
			if _, err := mail.ParseAddress(strings.TrimSpace(input)); err != nil {
				return errors.New("invalid email")
			}
			return nil
		},
	}).Run()
	return strings.TrimSpace(email), err
}

func promptPassword(label string) (string, error) {
	return (&promptui.Prompt{
		Label:    label,
		Mask:     '*',
		Validate: required(strings.ToLower(label)),
	}).Run()
}

func required(field string) promptui.ValidateFunc {
	return func(input string) error {
		if strings.TrimSpace(input) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}
