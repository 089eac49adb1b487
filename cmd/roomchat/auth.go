package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/rest"
)

var (
	flagUsername    string
	flagPassword    string
	flagEmail       string
	flagDisplayName string
	flagPhone       string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session",
	Args:  cobra.NoArgs,
	RunE:  runLogin,
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and store the session",
	Args:  cobra.NoArgs,
	RunE:  runRegister,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the stored session",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or update the signed-in user's profile",
	Args:  cobra.NoArgs,
	RunE:  runProfile,
}

func init() {
	loginCmd.Flags().StringVarP(&flagUsername, "username", "u", "", "username (prompted when empty)")
	loginCmd.Flags().StringVarP(&flagPassword, "password", "p", "", "password (prompted when empty)")

	registerCmd.Flags().StringVarP(&flagUsername, "username", "u", "", "username")
	registerCmd.Flags().StringVarP(&flagPassword, "password", "p", "", "password")
	registerCmd.Flags().StringVar(&flagEmail, "email", "", "email address")
	registerCmd.Flags().StringVar(&flagDisplayName, "display-name", "", "display name (defaults to the username)")
	registerCmd.Flags().StringVar(&flagPhone, "phone", "", "phone number (optional)")

	profileCmd.Flags().StringVarP(&flagUsername, "username", "u", "", "new username")
	profileCmd.Flags().StringVar(&flagEmail, "email", "", "new email address")
	profileCmd.Flags().StringVar(&flagPhone, "phone", "", "new phone number")
}

// prompter reads answers for missing flags from the command's stdin.
type prompter struct {
	out io.Writer
	in  *bufio.Reader
}

func newPrompter(cmd *cobra.Command) *prompter {
	return &prompter{out: cmd.OutOrStdout(), in: bufio.NewReader(cmd.InOrStdin())}
}

func (p *prompter) fill(label string, dst *string) error {
	if *dst != "" {
		return nil
	}
	fmt.Fprintf(p.out, "%s: ", label)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	*dst = strings.TrimRight(line, "\r\n")
	return nil
}

func runLogin(cmd *cobra.Command, _ []string) error {
	p := newPrompter(cmd)
	if err := p.fill("Username", &flagUsername); err != nil {
		return err
	}
	if err := p.fill("Password", &flagPassword); err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	api := rest.New(cfg.REST())
	sess, err := api.Login(cmd.Context(), flagUsername, flagPassword)
	if err != nil {
		return err
	}
	if err := store.Save(cmd.Context(), sess); err != nil {
		return err
	}
	log.Info().Str("username", sess.Username).Msg("[auth] logged in")
	fmt.Fprintf(cmd.OutOrStdout(), "Welcome, %s\n", sess.Ref().Name())
	return nil
}

func runRegister(cmd *cobra.Command, _ []string) error {
	p := newPrompter(cmd)
	for _, f := range []struct {
		label string
		dst   *string
	}{
		{"Username", &flagUsername},
		{"Email", &flagEmail},
		{"Password", &flagPassword},
	} {
		if err := p.fill(f.label, f.dst); err != nil {
			return err
		}
	}
	if flagDisplayName == "" {
		flagDisplayName = flagUsername
	}

	reg := chat.Registration{
		Username:    flagUsername,
		Email:       flagEmail,
		PhoneNumber: flagPhone,
		DisplayName: flagDisplayName,
		Password:    flagPassword,
	}
	if err := reg.Validate(); err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	api := rest.New(cfg.REST())
	sess, err := api.Register(cmd.Context(), reg)
	if err != nil {
		return err
	}
	if err := store.Save(cmd.Context(), sess); err != nil {
		return err
	}
	log.Info().Str("username", sess.Username).Msg("[auth] registered")
	fmt.Fprintf(cmd.OutOrStdout(), "Account created. Welcome, %s\n", sess.Ref().Name())
	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	if _, api, err := requireSession(ctx, store); err == nil {
		if err := api.Logout(ctx); err != nil {
			log.Warn().Err(err).Msg("[auth] server logout failed, clearing local session anyway")
		}
	}
	if err := store.Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
	return nil
}

func runProfile(cmd *cobra.Command, _ []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	sess, api, err := requireSession(ctx, store)
	if err != nil {
		return err
	}

	update := rest.ProfileUpdate{Username: flagUsername, Email: flagEmail, PhoneNumber: flagPhone}
	if update != (rest.ProfileUpdate{}) {
		updated, err := api.UpdateProfile(ctx, update)
		if err != nil {
			return err
		}
		updated.Token = sess.Token
		if err := store.Save(ctx, updated); err != nil {
			return err
		}
		sess = updated
		log.Info().Str("username", sess.Username).Msg("[auth] profile updated")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Username: %s\n", sess.Username)
	fmt.Fprintf(out, "Name:     %s\n", sess.Ref().Name())
	fmt.Fprintf(out, "Email:    %s\n", sess.Email)
	if sess.PhoneNumber != "" {
		fmt.Fprintf(out, "Phone:    %s\n", sess.PhoneNumber)
	}
	fmt.Fprintf(out, "Status:   %s\n", strings.ToLower(string(sess.Status)))
	return nil
}
