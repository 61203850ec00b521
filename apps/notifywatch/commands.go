package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/krasl809/JANDALISYS-sub003/internal/metrics"
	"github.com/krasl809/JANDALISYS-sub003/pkg/client"
	"github.com/krasl809/JANDALISYS-sub003/pkg/inbox"
	"github.com/krasl809/JANDALISYS-sub003/pkg/proto"
	"github.com/krasl809/JANDALISYS-sub003/pkg/realtime"
	"github.com/krasl809/JANDALISYS-sub003/pkg/session"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

// Flags holds the global options shared by every command
type Flags struct {
	APIBase     string
	Origin      string
	SessionFile string
	LogLevel    string
	Out         io.Writer
}

// Cmd implements the notifywatch commands
type Cmd struct {
	flags *Flags

	// login flags
	username string
	password string

	// list flags
	unreadOnly bool

	// watch flags
	bell bool
}

// NewCmd creates the command set
func NewCmd(flags *Flags) *Cmd {
	return &Cmd{flags: flags}
}

// Register adds the commands to the application
func (cmd *Cmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands,
		cmd.loginCmd(),
		cmd.listCmd(),
		cmd.readCmd(),
		cmd.readAllCmd(),
		cmd.deleteCmd(),
		cmd.watchCmd(),
		cmd.logoutCmd(),
	)
	return app
}

func (cmd *Cmd) loginCmd() *cli.Command {
	return &cli.Command{
		Name:      "login",
		Usage:     "Authenticate and store the session",
		UsageText: "notifywatch login --username <name> [--password <password>]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "username",
				Aliases:     []string{"u"},
				Usage:       "account name",
				Required:    true,
				Destination: &cmd.username,
			},
			&cli.StringFlag{
				Name:        "password",
				Aliases:     []string{"p"},
				Usage:       "account password (prompted for when omitted)",
				Sources:     cli.EnvVars("NOTIFYWATCH_PASSWORD"),
				Destination: &cmd.password,
			},
		},
		Action: cmd.runLogin,
	}
}

func (cmd *Cmd) listCmd() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Aliases:   []string{"ls"},
		Usage:     "List notifications, newest first",
		UsageText: "notifywatch list [--unread]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "unread",
				Usage:       "only show unread notifications",
				Destination: &cmd.unreadOnly,
			},
		},
		Action: cmd.runList,
	}
}

func (cmd *Cmd) readCmd() *cli.Command {
	return &cli.Command{
		Name:      "read",
		Usage:     "Mark a notification read",
		UsageText: "notifywatch read <id>",
		Action:    cmd.runRead,
	}
}

func (cmd *Cmd) readAllCmd() *cli.Command {
	return &cli.Command{
		Name:      "read-all",
		Usage:     "Mark every notification read",
		UsageText: "notifywatch read-all",
		Action:    cmd.runReadAll,
	}
}

func (cmd *Cmd) deleteCmd() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "Delete a notification",
		UsageText: "notifywatch delete <id>",
		Action:    cmd.runDelete,
	}
}

func (cmd *Cmd) watchCmd() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Follow new notifications until interrupted",
		UsageText: "notifywatch watch [--bell]",
		Description: `Fetches the current list, then follows the real-time channel. The
channel reconnects with exponential backoff (1s doubling up to 30s) until
the session expires or the command is interrupted.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "bell",
				Usage:       "ring the terminal bell for every new notification",
				Destination: &cmd.bell,
			},
		},
		Action: cmd.runWatch,
	}
}

func (cmd *Cmd) logoutCmd() *cli.Command {
	return &cli.Command{
		Name:      "logout",
		Usage:     "Forget the stored session",
		UsageText: "notifywatch logout",
		Action:    cmd.runLogout,
	}
}

func (cmd *Cmd) runLogin(ctx context.Context, c *cli.Command) error {
	password := cmd.password
	if password == "" {
		var err error
		if password, err = promptPassword(); err != nil {
			return err
		}
	}

	login, err := client.New(cmd.flags.APIBase).Login(ctx, cmd.username, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	sess := session.Session{
		UserID:    login.User.Id,
		Username:  login.User.Username,
		Token:     login.AccessToken,
		ExpiresAt: login.ExpiresAt,
	}
	if err := session.Save(cmd.flags.SessionFile, sess); err != nil {
		return err
	}

	name := login.User.FullName
	if name == "" {
		name = login.User.Username
	}
	fmt.Fprintf(cmd.flags.Out, "Logged in as %s (session valid until %s)\n", name, login.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}

// promptPassword reads a password from the terminal without echo
func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no password provided (stdin is not a terminal); use --password or NOTIFYWATCH_PASSWORD")
	}

	fmt.Fprint(os.Stderr, "Password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}

func (cmd *Cmd) runList(ctx context.Context, c *cli.Command) error {
	api, sess, err := cmd.client()
	if err != nil {
		return err
	}

	box := inbox.New(api, session.Static(sess))
	if err := box.Refresh(ctx); err != nil {
		return err
	}

	snapshot := box.Snapshot()
	list := snapshot.Notifications
	if cmd.unreadOnly {
		list = unread(list)
	}

	renderList(cmd.flags.Out, list)
	fmt.Fprintf(cmd.flags.Out, "\n%d unread\n", snapshot.UnreadCount)
	return nil
}

func (cmd *Cmd) runRead(ctx context.Context, c *cli.Command) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("missing notification id. Usage: notifywatch read <id>")
	}

	api, _, err := cmd.client()
	if err != nil {
		return err
	}

	if err := api.MarkRead(ctx, id); err != nil {
		return fmt.Errorf("mark %s read: %w", id, err)
	}
	fmt.Fprintf(cmd.flags.Out, "Marked %s read\n", id)
	return nil
}

func (cmd *Cmd) runReadAll(ctx context.Context, c *cli.Command) error {
	api, _, err := cmd.client()
	if err != nil {
		return err
	}

	if err := api.MarkAllRead(ctx); err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	fmt.Fprintln(cmd.flags.Out, "Marked all notifications read")
	return nil
}

func (cmd *Cmd) runDelete(ctx context.Context, c *cli.Command) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("missing notification id. Usage: notifywatch delete <id>")
	}

	api, _, err := cmd.client()
	if err != nil {
		return err
	}

	if err := api.DeleteNotification(ctx, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	fmt.Fprintf(cmd.flags.Out, "Deleted %s\n", id)
	return nil
}

func (cmd *Cmd) runWatch(ctx context.Context, c *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, sess, err := cmd.client()
	if err != nil {
		return err
	}

	return cmd.watch(ctx, sess)
}

// watch follows the channel until ctx is done or the session ends
func (cmd *Cmd) watch(ctx context.Context, sess session.Session) error {
	store := session.NewStore(sess)
	api := client.New(cmd.flags.APIBase, client.WithSession(store))
	box := inbox.New(api, store)

	opts := []realtime.Option{realtime.WithMetrics(metrics.GetMetrics())}
	if cmd.bell {
		opts = append(opts, realtime.WithDesktopNotifier(bellNotifier{out: cmd.flags.Out}))
	}
	manager := realtime.NewManager(realtime.Config{
		APIBase: cmd.flags.APIBase,
		Origin:  cmd.flags.Origin,
	}, store, box, opts...)

	ended := make(chan struct{})
	var endOnce sync.Once
	store.OnClear(func() {
		manager.Teardown()
		box.Reset()
		endOnce.Do(func() { close(ended) })
	})

	if !sess.ExpiresAt.IsZero() {
		expiry := time.AfterFunc(time.Until(sess.ExpiresAt), store.Clear)
		defer expiry.Stop()
	}

	// a logout or a login as someone else in another terminal ends the watch
	if fw, err := session.WatchFile(cmd.flags.SessionFile, store); err != nil {
		log.Warn().Err(err).Msg("Not following session file changes")
	} else {
		watchCtx, stopWatching := context.WithCancel(ctx)
		defer stopWatching()
		go fw.Run(watchCtx)
	}

	if err := box.Refresh(ctx); err != nil {
		return err
	}

	snapshots, unsubscribe := box.Subscribe()
	defer unsubscribe()

	seen := make(map[string]bool)
	for _, n := range box.Snapshot().Notifications {
		seen[n.Id] = true
	}
	fmt.Fprintf(cmd.flags.Out, "Watching notifications for %s (%d unread). Press Ctrl+C to stop.\n", sess.Username, box.UnreadCount())

	manager.Connect()
	defer manager.Teardown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ended:
			fmt.Fprintln(cmd.flags.Out, "Session ended. Run notifywatch login to continue.")
			return nil
		case snapshot := <-snapshots:
			for i := len(snapshot.Notifications) - 1; i >= 0; i-- {
				n := snapshot.Notifications[i]
				if seen[n.Id] {
					continue
				}
				seen[n.Id] = true
				fmt.Fprintf(cmd.flags.Out, "%s  [%s] %s\n", n.CreatedAt.Local().Format(time.Kitchen), n.Type, n.Title)
				if n.Message != "" {
					fmt.Fprintf(cmd.flags.Out, "          %s\n", n.Message)
				}
			}
			log.Debug().Int("unread", snapshot.UnreadCount).Str("state", manager.State().String()).Msg("Inbox updated")
		}
	}
}

func (cmd *Cmd) runLogout(ctx context.Context, c *cli.Command) error {
	if err := session.Remove(cmd.flags.SessionFile); err != nil {
		return err
	}
	fmt.Fprintln(cmd.flags.Out, "Logged out")
	return nil
}

// client loads the stored session and builds an authenticated client
func (cmd *Cmd) client() (*client.Client, session.Session, error) {
	sess, err := loadSession(cmd.flags.SessionFile, time.Now())
	if err != nil {
		return nil, session.Session{}, err
	}
	return client.New(cmd.flags.APIBase, client.WithSession(session.Static(sess))), sess, nil
}

// loadSession returns the stored session, or session.ErrNoSession when there
// is none or it has expired
func loadSession(path string, now time.Time) (session.Session, error) {
	sess, err := session.Load(path)
	if err != nil {
		return session.Session{}, err
	}
	if !sess.Active() || sess.Expired(now) {
		return session.Session{}, fmt.Errorf("%w: run notifywatch login", session.ErrNoSession)
	}
	return sess, nil
}

func unread(list []*proto.Notification) []*proto.Notification {
	out := make([]*proto.Notification, 0, len(list))
	for _, n := range list {
		if !n.IsRead {
			out = append(out, n)
		}
	}
	return out
}

// renderList prints one row per notification, unread ones marked with *
func renderList(w io.Writer, list []*proto.Notification) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No notifications")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tTYPE\tCREATED\tTITLE")
	for _, n := range list {
		marker := " "
		if !n.IsRead {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", marker, n.Id, n.Type, n.CreatedAt.Local().Format("2006-01-02 15:04"), n.Title)
	}
	tw.Flush()
}

// bellNotifier rings the terminal bell as the desktop notification
type bellNotifier struct {
	out io.Writer
}

func (b bellNotifier) Permitted() bool { return true }

func (b bellNotifier) Notify(title, body string) error {
	_, err := fmt.Fprint(b.out, "\a")
	return err
}
