// Command syncctl performs operator tasks against the shared auth store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/kvsync/backend/internal/config"
	"github.com/kvsync/backend/internal/logging"
	"github.com/kvsync/backend/internal/service"
	"github.com/kvsync/backend/internal/store"
)

const usage = `usage: syncctl <command> [flags]

commands:
  set-password -user NAME -password SECRET   write a bcrypt credential record
  bump-version                               invalidate every outstanding token
  version                                    print the current global version
  sessions                                   list active session records
  revoke -token TOKEN                        revoke a single token
`

var errUsage = errors.New("invalid usage")

func main() {
	cfg := config.Load()
	log := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to open store")
	}
	defer st.Close()

	svc, err := service.NewAuthService(st, cfg.Auth, service.WithLogger(log))
	if err != nil {
		log.WithError(err).Fatal("failed to initialize auth service")
	}

	if err := run(ctx, svc, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, svc *service.AuthService, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "set-password":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		user := fs.String("user", "", "account username")
		password := fs.String("password", "", "new password")
		if err := fs.Parse(rest); err != nil || *user == "" || *password == "" {
			return errUsage
		}
		if err := svc.SetPassword(ctx, *user, *password); err != nil {
			return fmt.Errorf("set password for %s: %w", *user, err)
		}
		fmt.Fprintf(out, "password updated for %s\n", *user)
		return nil

	case "bump-version":
		v, err := svc.BumpVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "global version is now %d\n", v)
		return nil

	case "version":
		v, err := svc.CurrentVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, v)
		return nil

	case "sessions":
		sessions, err := svc.ListSessions(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TOKEN\tUSER\tCREATED\tEXPIRES")
		for _, s := range sessions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Token, s.Username, formatMillis(s.Created), formatMillis(s.Expires))
		}
		return tw.Flush()

	case "revoke":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		token := fs.String("token", "", "token to revoke")
		if err := fs.Parse(rest); err != nil || *token == "" {
			return errUsage
		}
		revoked, err := svc.Revoke(ctx, *token)
		if err != nil {
			return err
		}
		if !revoked {
			fmt.Fprintln(out, "token is invalid or already expired; nothing to revoke")
			return nil
		}
		fmt.Fprintln(out, "token revoked")
		return nil

	default:
		return errUsage
	}
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
