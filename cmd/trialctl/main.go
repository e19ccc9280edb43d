// Command trialctl drives a local study session against the trial service:
// it logs in with an invite code or API key, records the student profile and
// reports what the feature router would show.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/duynhne/trial-service/config"
	"github.com/duynhne/trial-service/internal/session"
)

const usage = `usage: trialctl [flags] <command> [args]

commands:
  login-invite CODE        log in with an invite code
  login-key KEY            log in with a personal API key
  logout                   end the session
  status                   print the session as JSON
  profile [flags]          set the student profile (-name -start -end -grade -subjects)
  extend MINUTES           push the study end back
  open FEATURE             print the view the router renders for FEATURE
  history [ENTRY]          list learning history, or append ENTRY
  watch                    stay attached until the study clock logs out

flags:
`

func main() {
	fs := flag.NewFlagSet("trialctl", flag.ExitOnError)
	server := fs.String("server", envOr("TRIAL_SERVICE_URL", "http://localhost:8080"), "validation service base URL")
	storePath := fs.String("store", envOr("TRIALCTL_STORE", defaultStorePath()), "session store file")
	verbose := fs.Bool("v", false, "debug logging")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	if err := run(logger, *server, *storePath, fs.Arg(0), fs.Args()[1:]); err != nil {
		logger.Error().Err(err).Msg(fs.Arg(0) + " failed")
		os.Exit(1)
	}
}

func run(logger zerolog.Logger, server, storePath, cmd string, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	policies, err := config.LoadPolicies(config.Load().Invite)
	if err != nil {
		return err
	}

	store, err := session.OpenSQLiteStore(ctx, storePath)
	if err != nil {
		return err
	}
	defer store.Close()

	loggedOut := make(chan session.LogoutReason, 1)
	m := session.NewMachine(store, session.NewRemoteValidator(server), policies,
		session.WithLogger(logger),
		session.WithHooks(session.Hooks{
			OnWarning: func(end time.Time) {
				fmt.Printf("Study session ends at %s. Extend with: trialctl extend MINUTES\n", end.Format(time.Kitchen))
			},
			OnLogout: func(r session.LogoutReason) {
				select {
				case loggedOut <- r:
				default:
				}
			},
		}),
	)
	m.Restore(ctx)
	defer m.Close()

	switch cmd {
	case "login-invite":
		if len(args) != 1 {
			return errors.New("login-invite takes exactly one code")
		}
		if _, err := m.LoginWithInvite(ctx, args[0]); err != nil {
			return err
		}
		return printJSON(m.Snapshot())

	case "login-key":
		if len(args) != 1 {
			return errors.New("login-key takes exactly one key")
		}
		if _, err := m.LoginWithAPIKey(ctx, args[0]); err != nil {
			return err
		}
		return printJSON(m.Snapshot())

	case "logout":
		return m.Logout(ctx, session.ReasonManual)

	case "status":
		return printJSON(m.Snapshot())

	case "profile":
		return setProfile(ctx, m, args)

	case "extend":
		if len(args) != 1 {
			return errors.New("extend takes the number of minutes")
		}
		minutes, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("minutes: %w", err)
		}
		end, err := m.ExtendSession(ctx, minutes)
		if err != nil {
			return err
		}
		fmt.Println("Study session now ends at", end.Format(time.RFC3339))
		return nil

	case "open":
		if len(args) != 1 {
			return errors.New("open takes a feature name")
		}
		fmt.Println(m.Route(session.Feature(args[0])))
		return nil

	case "history":
		if len(args) == 0 {
			for _, e := range m.History() {
				fmt.Println(e)
			}
			return nil
		}
		return m.AppendHistory(ctx, strings.Join(args, " "))

	case "watch":
		if !m.IsLoggedIn() {
			return session.ErrNotLoggedIn
		}
		if end := m.StudyEnd(); !end.IsZero() {
			logger.Info().Time("study_end", end).Msg("Watching study session")
		}
		select {
		case r := <-loggedOut:
			fmt.Println("Logged out:", r)
		case <-ctx.Done():
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func setProfile(ctx context.Context, m *session.Machine, args []string) error {
	fs := flag.NewFlagSet("profile", flag.ContinueOnError)
	name := fs.String("name", "", "student name")
	grade := fs.String("grade", "", "grade or year")
	subjects := fs.String("subjects", "", "comma separated subjects")
	start := fs.String("start", "", "study start HH:MM")
	end := fs.String("end", "", "study end HH:MM")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p := session.Profile{Name: *name, Grade: *grade, StudyStart: *start, StudyEnd: *end}
	if *subjects != "" {
		for _, s := range strings.Split(*subjects, ",") {
			if s = strings.TrimSpace(s); s != "" {
				p.Subjects = append(p.Subjects, s)
			}
		}
	}
	studyEnd, err := m.SetProfile(ctx, p)
	if err != nil {
		return err
	}
	fmt.Println("Study session ends at", studyEnd.Format(time.RFC3339))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "trialctl.db"
	}
	return filepath.Join(dir, "trialctl", "session.db")
}
