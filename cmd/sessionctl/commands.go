package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jrsteele09/go-clinic-session/internal/config"
	"github.com/jrsteele09/go-clinic-session/internal/transport"
	"github.com/spf13/cobra"
)

var configFile string

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Sign in to the clinic API and make authenticated requests",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "sessionctl.toml", "config file path")

	cmd.AddCommand(
		newLoginCommand(),
		newLogoutCommand(),
		newWhoAmICommand(),
		newRefreshCommand(),
		newStatusCommand(),
		newGetCommand(),
		newPatientCommand(),
		newFakeBackendCommand(),
	)
	return cmd
}

// withApp loads config, builds the app and closes it once run returns
func withApp(run func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		a, err := newApp(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialise session: %w", err)
		}
		defer a.close()
		return run(cmd, args, a)
	}
}

func newLoginCommand() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in as clinic staff",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if password == "" {
				password = config.GetEnv("SESSIONCTL_PASSWORD", "")
			}
			cred, err := a.staff.Login(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("login failed: %s", transport.UserMessage(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", cred.User.Name, cred.User.Role)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "staff email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (defaults to $SESSIONCTL_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out the staff session",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			a.staff.Logout(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		}),
	}
}

func newWhoAmICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Validate the staff session and show the signed in user",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			user, err := a.staff.GetCurrentUser(cmd.Context())
			if err != nil {
				return err
			}
			if user == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s <%s> %s", user.Name, user.Email, user.Role)
			if user.ClinicName != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " at %s", user.ClinicName)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		}),
	}
}

func newRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new token pair now",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			token, ok := a.staff.AccessToken()
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
				return nil
			}
			outcome := a.staff.Coordinator().Refresh(cmd.Context(), token)
			fmt.Fprintf(cmd.OutOrStdout(), "Refresh %s\n", outcome)
			return nil
		}),
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stored sessions without contacting the backend",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			out := cmd.OutOrStdout()
			if user, ok := a.staff.CachedUser(); ok {
				fmt.Fprintf(out, "staff:   %s <%s>", user.Name, user.Email)
				if cred, ok := a.staffStore.Get(); ok {
					if exp, ok := cred.AccessExpiry(); ok {
						fmt.Fprintf(out, ", access token expires %s", exp.Format(time.RFC3339))
					}
				}
				fmt.Fprintln(out)
			} else {
				fmt.Fprintln(out, "staff:   signed out")
			}

			if p, ok := a.patient.CurrentPatient(); ok {
				fmt.Fprintf(out, "patient: %s (%s) at %s\n", p.Name, p.PatientID, p.ClinicName)
			} else {
				fmt.Fprintln(out, "patient: signed out")
			}
			return nil
		}),
	}
}

func newGetCommand() *cobra.Command {
	var asPatient bool

	cmd := &cobra.Command{
		Use:   "get <url-or-path>",
		Short: "GET a staff-scoped (or --patient scoped) URL with the stored credential",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.GetHTTPTimeout())
			defer cancel()

			var (
				resp *http.Response
				err  error
			)
			if asPatient {
				resp, err = a.patient.Client().Get(ctx, resolveURL(a.cfg.GetPatientAPIBaseURL(), args[0]))
			} else {
				resp, err = a.staff.Client().Get(ctx, resolveURL(a.cfg.GetAPIBaseURL(), args[0]))
			}
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			fmt.Fprintln(cmd.OutOrStdout(), resp.Status)
			_, err = io.Copy(cmd.OutOrStdout(), resp.Body)
			return err
		}),
	}
	cmd.Flags().BoolVar(&asPatient, "patient", false, "use the patient session instead of staff")
	return cmd
}

func newPatientCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patient",
		Short: "Patient one-time-passcode session commands",
	}
	cmd.AddCommand(
		newRequestOTPCommand(),
		newVerifyOTPCommand(),
		newPatientLogoutCommand(),
	)
	return cmd
}

func newRequestOTPCommand() *cobra.Command {
	var phone, clinicID string

	cmd := &cobra.Command{
		Use:   "request-otp",
		Short: "Send a passcode to the patient's phone",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			challenge, err := a.patient.RequestOTP(cmd.Context(), phone, clinicID)
			if err != nil {
				return fmt.Errorf("could not send passcode: %s", transport.UserMessage(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Passcode sent, valid for %s\n", challenge.ExpiresIn)
			return nil
		}),
	}
	cmd.Flags().StringVar(&phone, "phone", "", "patient phone number")
	cmd.Flags().StringVar(&clinicID, "clinic", "", "clinic id")
	_ = cmd.MarkFlagRequired("phone")
	_ = cmd.MarkFlagRequired("clinic")
	return cmd
}

func newVerifyOTPCommand() *cobra.Command {
	var phone, clinicID, code string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Exchange a passcode for a patient session",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			cred, err := a.patient.VerifyOTP(cmd.Context(), phone, code, clinicID)
			if err != nil {
				return fmt.Errorf("verification failed: %s", transport.UserMessage(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", cred.Patient.Name, cred.Patient.PatientID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&phone, "phone", "", "patient phone number")
	cmd.Flags().StringVar(&clinicID, "clinic", "", "clinic id")
	cmd.Flags().StringVar(&code, "code", "", "passcode received by SMS")
	for _, name := range []string{"phone", "clinic", "code"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newPatientLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out the patient session",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			a.patient.Logout(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Patient signed out")
			return nil
		}),
	}
}
