package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/target/booking-session/internal/adapters/authtransport"
	domainauth "github.com/target/booking-session/internal/domain/auth"
	"github.com/target/booking-session/internal/ports"
	"github.com/target/booking-session/internal/service"
)

type credentialOptions struct {
	Email       string
	Password    string
	DisplayName string
}

func parseCredentialFlags(name string, args []string, in io.Reader, withName bool) (credentialOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts credentialOptions
	fs.StringVar(&opts.Email, "email", "", "Account email address")
	fs.StringVar(&opts.Password, "password", "", "Account password (read from stdin when omitted)")
	if withName {
		fs.StringVar(&opts.DisplayName, "name", "", "Display name")
	}
	if err := fs.Parse(args); err != nil {
		return credentialOptions{}, err
	}

	opts.Email = strings.TrimSpace(opts.Email)
	if opts.Email == "" {
		return credentialOptions{}, errors.New("--email is required")
	}
	if opts.Password == "" {
		pw, err := readLine(in)
		if err != nil {
			return credentialOptions{}, fmt.Errorf("read password from stdin: %w", err)
		}
		opts.Password = pw
	}
	if opts.Password == "" {
		return credentialOptions{}, errors.New("password is required")
	}
	return opts, nil
}

func readLine(in io.Reader) (string, error) {
	if in == nil {
		return "", nil
	}
	sc := bufio.NewScanner(in)
	if sc.Scan() {
		return strings.TrimRight(sc.Text(), "\r\n"), nil
	}
	return "", sc.Err()
}

// withSession opens the session, runs fn with a bounded context and closes
// the storage infrastructure.
func withSession(cmdCtx *commandContext, fn func(ctx context.Context, h *sessionHandle) error) error {
	h := cmdCtx.session
	if h == nil {
		var err error
		if h, err = openSession(cmdCtx); err != nil {
			return err
		}
		if cmdCtx.keepOpen {
			cmdCtx.session = h
		} else {
			defer func() {
				if cerr := h.Close(); cerr != nil {
					cmdCtx.Logger.Warn("close storage failed", "error", cerr)
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()
	return fn(ctx, h)
}

func runSignUp(cmdCtx *commandContext, args []string) error {
	opts, err := parseCredentialFlags("signup", args, cmdCtx.In, true)
	if err != nil {
		return err
	}
	return withSession(cmdCtx, func(ctx context.Context, h *sessionHandle) error {
		if err := h.Service.SignUp(ctx, ports.SignUpInput{
			Email:       opts.Email,
			Password:    opts.Password,
			DisplayName: opts.DisplayName,
		}); err != nil {
			return err
		}
		return writef(cmdCtx.Out, "Account created for %s. Check your email to verify it before signing in.\n", opts.Email)
	})
}

func runSignIn(cmdCtx *commandContext, args []string) error {
	opts, err := parseCredentialFlags("signin", args, cmdCtx.In, false)
	if err != nil {
		return err
	}
	return withSession(cmdCtx, func(ctx context.Context, h *sessionHandle) error {
		res, err := h.Service.SignIn(ctx, ports.SignInInput{Email: opts.Email, Password: opts.Password})
		if err != nil {
			return err
		}
		if !res.HasActiveRole {
			return writef(cmdCtx.Out, "Signed in as %s. Choose a role with: session-admin select-role --role <%s>\n",
				res.Identity.Email, joinRoles(res.Identity.Roles))
		}
		return writef(cmdCtx.Out, "Signed in as %s (%s).\n", res.Identity.Email, res.ActiveRole)
	})
}

func runSignOut(cmdCtx *commandContext, _ []string) error {
	return withSession(cmdCtx, func(ctx context.Context, h *sessionHandle) error {
		h.Service.SignOut(ctx)
		return writef(cmdCtx.Out, "Signed out.\n")
	})
}

func runStatus(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	rawJSON := fs.Bool("json", false, "Print the session snapshot as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withSession(cmdCtx, func(_ context.Context, h *sessionHandle) error {
		snap := h.Service.Snapshot()
		if *rawJSON {
			enc := json.NewEncoder(cmdCtx.Out)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		return printSnapshot(cmdCtx.Out, snap)
	})
}

func printSnapshot(w io.Writer, snap service.SessionSnapshot) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{{"Authenticated", fmt.Sprint(snap.Authenticated)}}
	if snap.Identity != nil {
		rows = append(rows,
			[2]string{"User", snap.Identity.ID},
			[2]string{"Email", snap.Identity.Email},
			[2]string{"Roles", joinRoles(snap.Identity.Roles)},
		)
	}
	active := "-"
	if snap.ActiveRole != nil {
		active = snap.ActiveRole.String()
	}
	rows = append(rows, [2]string{"Active role", active})
	if snap.AccessTokenExpiry != nil {
		rows = append(rows, [2]string{"Access expires", snap.AccessTokenExpiry.Local().Format("2006-01-02 15:04:05")})
	}
	rows = append(rows, [2]string{"Refresh token", fmt.Sprint(snap.HasRefreshToken)})
	for _, r := range rows {
		if _, err := fmt.Fprintf(tw, "%s:\t%s\n", r[0], r[1]); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func runSelectRole(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("select-role", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	roleFlag := fs.String("role", "", "Role to activate (student, tutor, admin or 0-2)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	role, ok := domainauth.ParseRole(*roleFlag)
	if !ok {
		return fmt.Errorf("unknown role %q", *roleFlag)
	}
	return withSession(cmdCtx, func(ctx context.Context, h *sessionHandle) error {
		if err := h.Service.SelectRole(ctx, role); err != nil {
			return err
		}
		return writef(cmdCtx.Out, "Active role: %s\n", role)
	})
}

func runRefresh(cmdCtx *commandContext, _ []string) error {
	return withSession(cmdCtx, func(ctx context.Context, h *sessionHandle) error {
		if err := h.Service.RefreshSession(ctx); err != nil {
			return err
		}
		return writef(cmdCtx.Out, "Session refreshed.\n")
	})
}

func runAPI(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("api", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	method := fs.String("method", http.MethodGet, "HTTP method")
	body := fs.String("body", "", "JSON request body")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: session-admin api [--method GET] [--body JSON] <path>")
	}
	path := fs.Arg(0)

	var in any
	if *body != "" {
		var raw json.RawMessage
		if err := json.Unmarshal([]byte(*body), &raw); err != nil {
			return fmt.Errorf("--body is not valid JSON: %w", err)
		}
		in = raw
	}

	return withSession(cmdCtx, func(ctx context.Context, h *sessionHandle) error {
		client, err := authtransport.NewClient(authtransport.ClientOptions{
			BaseURL:   cmdCtx.Config.API.BaseURL,
			Transport: h.Transport,
			Timeout:   cmdCtx.Config.API.Timeout,
		})
		if err != nil {
			return err
		}
		var out json.RawMessage
		if err := client.DoJSON(ctx, strings.ToUpper(*method), path, in, &out); err != nil {
			return err
		}
		return writeJSON(cmdCtx.Out, out)
	})
}

func writeJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		_, werr := w.Write(raw)
		return werr
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func joinRoles(roles domainauth.RoleSet) string {
	parts := make([]string, 0, len(roles))
	for _, r := range roles {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, "|")
}
