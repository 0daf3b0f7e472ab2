package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/felixgeelhaar/stocktake/internal/auth"
	"github.com/felixgeelhaar/stocktake/internal/authz"
	stkerrors "github.com/felixgeelhaar/stocktake/internal/errors"
	"github.com/felixgeelhaar/stocktake/internal/session"
	"github.com/felixgeelhaar/stocktake/internal/tenant"
)

// Shell reads commands line by line and runs them against an App. Every
// line counts as a user interaction for the active session.
type Shell struct {
	app    *App
	in     io.Reader
	out    io.Writer
	styles Styles

	// Prompt is printed before each line. Tests leave it empty.
	Prompt string
}

func newShell(app *App, in io.Reader, out io.Writer) *Shell {
	return &Shell{app: app, in: in, out: out, styles: newStyles(out)}
}

type shellCommand struct {
	usage string
	help  string
	run   func(s *Shell, ctx context.Context, args []string) error
}

var shellCommands map[string]shellCommand

func init() {
	shellCommands = map[string]shellCommand{
		"login":   {"login <user> <password>", "sign in and start a session", (*Shell).login},
		"logout":  {"logout", "end the session", (*Shell).logout},
		"whoami":  {"whoami", "show the user the platform sees", (*Shell).whoami},
		"role":    {"role <role>", "change the session role", (*Shell).role},
		"tenant":  {"tenant [show|select <id>|clear]", "show or change the tenant scope", (*Shell).tenant},
		"tenants": {"tenants", "list tenants you may act on", (*Shell).tenants},
		"items":   {"items", "list master data of the scoped tenant", (*Shell).items},
		"get":     {"get <path>", "GET a platform path and print the JSON", (*Shell).get},
		"status":  {"status", "show session, tenant and token state", (*Shell).status},
		"help":    {"help", "list commands", (*Shell).help},
	}
}

// Run processes lines until EOF, "quit", or ctx is done. Terminations are
// reported as soon as they happen, even while waiting for input.
func (s *Shell) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(s.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
		readErr <- sc.Err()
	}()

	s.prompt()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-s.app.Terminations:
			s.onTermination(t)
			s.prompt()
		case line, ok := <-lines:
			if !ok {
				s.drain()
				return <-readErr
			}
			s.drain()
			if quit := s.Exec(ctx, line); quit {
				s.drain()
				return nil
			}
			s.drain()
			s.prompt()
		}
	}
}

// Exec runs one line and reports whether the shell should exit.
func (s *Shell) Exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	name, args := strings.ToLower(fields[0]), fields[1:]
	if name == "quit" || name == "exit" {
		return true
	}

	if err := s.app.Sessions.Touch(ctx); err != nil && !errors.Is(err, session.ErrNoSession) {
		s.app.Logger.WithError(err).Warn("could not record interaction")
	}

	c, ok := shellCommands[name]
	if !ok {
		s.printError(fmt.Errorf("unknown command %q, try 'help'", name))
		return false
	}
	err := c.run(s, ctx, args)
	s.app.Metrics.CommandExecuted(name, err == nil)
	if err != nil {
		s.printError(err)
	}
	return false
}

func (s *Shell) drain() {
	for {
		select {
		case t := <-s.app.Terminations:
			s.onTermination(t)
		default:
			return
		}
	}
}

// onTermination is the navigation reset: the user is back at sign-in.
// Logouts were already reported by the logout command.
func (s *Shell) onTermination(t session.Termination) {
	if t.Cause == session.CauseLogout {
		return
	}
	fmt.Fprintln(s.out, s.styles.Banner.Render(t.Cause.Message()))
	fmt.Fprintln(s.out, s.styles.Muted.Render("Back at sign-in. Use 'login <user> <password>' to continue."))
}

func (s *Shell) prompt() {
	if s.Prompt == "" {
		return
	}
	fmt.Fprint(s.out, s.styles.Prompt.Render(s.Prompt))
}

func (s *Shell) printf(format string, args ...interface{}) {
	fmt.Fprintf(s.out, format, args...)
}

func (s *Shell) printError(err error) {
	fmt.Fprintf(s.out, "%s %v\n", s.styles.Error.Render("Error:"), userError(err))
}

// userError turns core errors into ones that tell the user what to do.
func userError(err error) error {
	switch {
	case errors.Is(err, session.ErrNoSession), auth.IsAuthError(err, auth.ErrNotAuthenticated):
		return stkerrors.NewNotLoggedInError()
	case errors.Is(err, tenant.ErrTenantNotSelected):
		return stkerrors.NewTenantRequiredError()
	}
	return err
}

func (s *Shell) requireSession() (session.SessionState, error) {
	if s.app.Sessions.State() != session.Active {
		return session.SessionState{}, session.ErrNoSession
	}
	st, _ := s.app.Sessions.Snapshot()
	return st, nil
}

func (s *Shell) login(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: %s", shellCommands["login"].usage)
	}
	st, err := s.app.Login(ctx, args[0], args[1])
	if err != nil {
		if auth.IsAuthError(err, auth.ErrInvalidCredentials) {
			return stkerrors.NewLoginFailedError(args[0], err)
		}
		return err
	}

	who := fmt.Sprintf("%s (%s", st.Principal.UserID, authz.Parse(st.Role))
	if st.Principal.TenantID != "" {
		who += ", tenant " + tenant.Normalize(st.Principal.TenantID)
	}
	who += ")"
	s.printf("%s %s\n", s.styles.Success.Render("Signed in as"), who)
	if authz.IsSuperuser(st.Role) {
		s.printf("%s\n", s.styles.Muted.Render("Select a tenant with 'tenant select <id>' before reading tenant data."))
	}
	return nil
}

func (s *Shell) logout(ctx context.Context, _ []string) error {
	if err := s.app.Sessions.Logout(ctx); err != nil {
		return err
	}
	s.printf("%s\n", session.CauseLogout.Message())
	return nil
}

func (s *Shell) whoami(ctx context.Context, _ []string) error {
	if _, err := s.requireSession(); err != nil {
		return err
	}
	u, err := s.app.Platform.GetCurrentUser(ctx)
	if err != nil {
		return err
	}
	s.printf("%s  %s  role=%s", s.styles.Key.Render(u.ID), u.Email, u.Role)
	if u.TenantID != "" {
		s.printf("  tenant=%s", u.TenantID)
	}
	s.printf("\n")
	return nil
}

func (s *Shell) role(_ context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", shellCommands["role"].usage)
	}
	if err := s.app.Sessions.SetRole(args[0]); err != nil {
		return err
	}
	p := s.app.Config.TimeoutTable().For(args[0])
	s.printf("Role is now %s (idle %s, absolute %s)\n", authz.Parse(args[0]), p.Idle, p.Absolute)
	return nil
}

func (s *Shell) tenant(_ context.Context, args []string) error {
	st, err := s.requireSession()
	if err != nil {
		return err
	}

	sub := "show"
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
	}
	switch sub {
	case "show":
		sel := s.app.Tenant.Snapshot()
		switch {
		case !sel.IsSuperuser:
			s.printf("Scoped to your own tenant %s\n", tenant.Normalize(st.Principal.TenantID))
		case sel.HasTenant():
			s.printf("Tenant %s selected\n", sel.TenantID)
		default:
			s.printf("No tenant selected\n")
		}
		return nil

	case "select":
		if len(args) != 2 {
			return fmt.Errorf("usage: tenant select <id>")
		}
		target := tenant.Normalize(args[1])
		if target == "" {
			return fmt.Errorf("tenant id must not be empty")
		}
		if !s.app.Tenant.Snapshot().IsSuperuser {
			return stkerrors.NewTenantForbiddenError(st.Role, target)
		}
		d := authz.Authorize(authz.Request{
			Role:         st.Role,
			Action:       authz.ActionActOnTenant,
			UserTenant:   st.Principal.TenantID,
			TargetTenant: target,
		})
		if !d.Allowed {
			return stkerrors.NewTenantForbiddenError(st.Role, target)
		}
		s.app.Tenant.SelectTenant(target)
		s.printf("Tenant %s selected\n", target)
		return nil

	case "clear":
		s.app.Tenant.SelectTenant("")
		s.printf("Tenant selection cleared\n")
		return nil
	}
	return fmt.Errorf("usage: %s", shellCommands["tenant"].usage)
}

func (s *Shell) tenants(ctx context.Context, _ []string) error {
	if _, err := s.requireSession(); err != nil {
		return err
	}
	list, err := s.app.Platform.ListTenants(ctx)
	if err != nil {
		return err
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	selected := s.app.Tenant.Snapshot().TenantID
	w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	for _, t := range list {
		mark := " "
		if t.ID == selected {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", mark, t.ID, t.Name)
	}
	return w.Flush()
}

func (s *Shell) items(ctx context.Context, _ []string) error {
	st, err := s.requireSession()
	if err != nil {
		return err
	}
	if err := s.app.Tenant.Require(); err != nil {
		return err
	}

	target := st.Principal.TenantID
	if sel := s.app.Tenant.Snapshot(); sel.IsSuperuser {
		target = sel.TenantID
	}
	d := authz.Authorize(authz.Request{
		Role:         st.Role,
		Action:       authz.ActionReadMasterData,
		UserTenant:   st.Principal.TenantID,
		TargetTenant: target,
	})
	if !d.Allowed {
		return stkerrors.NewPermissionDeniedError(st.Role, "read master data")
	}

	resp, err := s.app.Platform.ListItems(ctx)
	if err != nil {
		return err
	}
	s.printf("%s\n", s.styles.Title.Render("Items of "+resp.Tenant))
	w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SKU\tNAME\tQTY")
	for _, it := range resp.Items {
		fmt.Fprintf(w, "%s\t%s\t%d\n", it.SKU, it.Name, it.Quantity)
	}
	return w.Flush()
}

func (s *Shell) get(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", shellCommands["get"].usage)
	}
	if _, err := s.requireSession(); err != nil {
		return err
	}
	var raw json.RawMessage
	if err := s.app.Platform.Get(ctx, args[0], &raw); err != nil {
		return err
	}
	pretty, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format response: %w", err)
	}
	s.printf("%s\n", pretty)
	return nil
}

func (s *Shell) status(_ context.Context, _ []string) error {
	state := s.app.Sessions.State()
	s.printf("%s %s\n", s.styles.Key.Render("session:"), state)

	if state != session.Active {
		if t, ok := s.app.Sessions.LastTermination(); ok {
			s.printf("%s %s at %s\n", s.styles.Key.Render("ended:"), t.Cause, t.At.Format(time.RFC3339))
		}
		return nil
	}

	st, _ := s.app.Sessions.Snapshot()
	s.printf("%s %s (%s)\n", s.styles.Key.Render("user:"), st.Principal.UserID, authz.Parse(st.Role))
	if left, cause, err := s.app.Sessions.Remaining(); err == nil {
		s.printf("%s %s until %s expiry\n", s.styles.Key.Render("remaining:"), left.Round(time.Second), cause)
	}

	sel := s.app.Tenant.Snapshot()
	scope := tenant.Normalize(st.Principal.TenantID)
	if sel.IsSuperuser {
		scope = sel.TenantID
		if scope == "" {
			scope = "none selected"
		}
	}
	s.printf("%s %s\n", s.styles.Key.Render("tenant:"), scope)

	if tok, ok := s.app.Tokens.Cached(); ok {
		s.printf("%s cached, issued %s\n", s.styles.Key.Render("token:"), tok.IssuedAt.Format(time.RFC3339))
	} else {
		s.printf("%s none cached\n", s.styles.Key.Render("token:"))
	}
	return nil
}

func (s *Shell) help(_ context.Context, _ []string) error {
	names := make([]string, 0, len(shellCommands))
	for name := range shellCommands {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	for _, name := range names {
		c := shellCommands[name]
		fmt.Fprintf(w, "  %s\t%s\n", c.usage, c.help)
	}
	fmt.Fprintf(w, "  quit\tleave; the session resumes on the next login\n")
	return w.Flush()
}
