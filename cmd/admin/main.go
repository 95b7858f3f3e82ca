package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"nepojang/internal/auth"
	"nepojang/internal/config"
	"nepojang/internal/db"
	"nepojang/internal/logging"
	"nepojang/internal/models"
	"nepojang/internal/names"
	"nepojang/internal/store"
)

const usage = `usage: admin <command> [flags]

commands:
  account-add <username> <password>   create a login account
  account-edit <dbid>                 change or delete an account
  profile-add <dbid> <name> <agent>   create a profile under an account
  name-change <dbid> <name>           rename a profile
  history <dbid>                      print a profile's name ledger
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fail(err)
	}
	logger := logging.New("warn")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dbConn, err := db.New(ctx, cfg.DBDSN)
	if err != nil {
		fail(err)
	}
	defer dbConn.Close()

	st := store.NewPostgres(dbConn.Pool)
	nameEngine := names.NewEngine(logger, st)

	switch os.Args[1] {
	case "account-add":
		accountAdd(ctx, st, os.Args[2:])
	case "account-edit":
		accountEdit(ctx, st, os.Args[2:])
	case "profile-add":
		profileAdd(ctx, st, nameEngine, os.Args[2:])
	case "name-change":
		nameChange(ctx, st, nameEngine, os.Args[2:])
	case "history":
		history(ctx, st, nameEngine, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// uuidFlag parses an optional UUID argument, generating one when empty.
func uuidFlag(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(raw)
}

func accountAdd(ctx context.Context, st store.Store, argv []string) {
	fs := flag.NewFlagSet("account-add", flag.ExitOnError)
	rawUUID := fs.String("uuid", "", "new account's UUID")
	fs.Parse(argv)
	if fs.NArg() != 2 {
		fail(fmt.Errorf("account-add needs <username> <password>"))
	}

	id, err := uuidFlag(*rawUUID)
	if err != nil {
		fail(err)
	}
	hash, err := auth.HashPassword(fs.Arg(1))
	if err != nil {
		fail(err)
	}

	account := &models.Account{
		UUID:         id,
		Username:     fs.Arg(0),
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := st.CreateAccount(ctx, account); err != nil {
		fail(err)
	}
	fmt.Printf("account %d %s uuid=%s\n", account.ID, account.Username, account.UUID)
}

func accountEdit(ctx context.Context, st store.Store, argv []string) {
	fs := flag.NewFlagSet("account-edit", flag.ExitOnError)
	rawUUID := fs.String("uuid", "", "change account UUID")
	randomUUID := fs.Bool("random-uuid", false, "refresh account UUID")
	username := fs.String("username", "", "change account username")
	password := fs.String("password", "", "change account password")
	del := fs.Bool("delete", false, "delete this account")
	fs.Parse(argv)
	if fs.NArg() != 1 {
		fail(fmt.Errorf("account-edit needs <dbid>"))
	}
	if *rawUUID != "" && *randomUUID {
		fail(fmt.Errorf("-uuid and -random-uuid are mutually exclusive"))
	}

	var dbid int64
	if _, err := fmt.Sscanf(fs.Arg(0), "%d", &dbid); err != nil {
		fail(fmt.Errorf("invalid dbid %q", fs.Arg(0)))
	}

	account, err := st.AccountByID(ctx, dbid)
	if err != nil {
		fail(fmt.Errorf("no account matches that dbid: %w", err))
	}

	if *del {
		if err := st.DeleteAccount(ctx, dbid); err != nil {
			fail(err)
		}
		return
	}

	if *rawUUID != "" {
		id, err := uuid.Parse(*rawUUID)
		if err != nil {
			fail(err)
		}
		account.UUID = id
	}
	if *randomUUID {
		account.UUID = uuid.New()
	}
	if *username != "" {
		account.Username = *username
	}
	if *password != "" {
		hash, err := auth.HashPassword(*password)
		if err != nil {
			fail(err)
		}
		account.PasswordHash = hash
	}

	if err := st.UpdateAccount(ctx, account); err != nil {
		fail(err)
	}
	fmt.Printf("account %d %s uuid=%s\n", account.ID, account.Username, account.UUID)
}

func profileAdd(ctx context.Context, st store.Store, eng *names.Engine, argv []string) {
	fs := flag.NewFlagSet("profile-add", flag.ExitOnError)
	rawUUID := fs.String("uuid", "", "new profile's UUID")
	fs.Parse(argv)
	if fs.NArg() != 3 {
		fail(fmt.Errorf("profile-add needs <dbid> <name> <agent>"))
	}

	var dbid int64
	if _, err := fmt.Sscanf(fs.Arg(0), "%d", &dbid); err != nil {
		fail(fmt.Errorf("invalid dbid %q", fs.Arg(0)))
	}
	id, err := uuidFlag(*rawUUID)
	if err != nil {
		fail(err)
	}

	account, err := st.AccountByID(ctx, dbid)
	if err != nil {
		fail(fmt.Errorf("no account matches that dbid: %w", err))
	}

	profile, err := eng.CreateProfile(ctx, account, id, fs.Arg(2), fs.Arg(1))
	if err != nil {
		fail(err)
	}
	fmt.Printf("profile %d %s uuid=%s agent=%s\n", profile.ID, profile.Name, profile.UUID, profile.Agent)
}

func nameChange(ctx context.Context, st store.Store, eng *names.Engine, argv []string) {
	fs := flag.NewFlagSet("name-change", flag.ExitOnError)
	bypassWait := fs.Bool("bypass-wait", false, "do not wait 30 days between name changes")
	bypassLock := fs.Bool("bypass-lock", false, "do not wait 37 days for the name to unlock")
	fs.Parse(argv)
	if fs.NArg() != 2 {
		fail(fmt.Errorf("name-change needs <dbid> <name>"))
	}

	var dbid int64
	if _, err := fmt.Sscanf(fs.Arg(0), "%d", &dbid); err != nil {
		fail(fmt.Errorf("invalid dbid %q", fs.Arg(0)))
	}
	newName := fs.Arg(1)

	profile, err := st.ProfileByID(ctx, dbid)
	if err != nil {
		fail(fmt.Errorf("no profile matches that dbid: %w", err))
	}

	if !*bypassWait {
		ok, err := eng.CanChangeName(ctx, profile)
		if err != nil {
			fail(err)
		}
		if !ok {
			fail(fmt.Errorf("name change cooldown has not elapsed"))
		}
	}
	if !*bypassLock {
		ok, err := eng.NameAvailableForChange(ctx, profile, newName)
		if err != nil {
			fail(err)
		}
		if !ok {
			fail(fmt.Errorf("name not available"))
		}
	}

	event, err := eng.AttemptNameChange(ctx, profile, newName)
	if err != nil {
		fail(err)
	}
	fmt.Printf("profile %d now %s (active from %s)\n", profile.ID, event.Name, event.ActiveFrom.Format(time.RFC3339))
}

func history(ctx context.Context, st store.Store, eng *names.Engine, argv []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	unix := fs.Bool("unix", false, "show timestamps as integers")
	fs.Parse(argv)
	if fs.NArg() != 1 {
		fail(fmt.Errorf("history needs <dbid>"))
	}

	var dbid int64
	if _, err := fmt.Sscanf(fs.Arg(0), "%d", &dbid); err != nil {
		fail(fmt.Errorf("invalid dbid %q", fs.Arg(0)))
	}

	profile, err := st.ProfileByID(ctx, dbid)
	if err != nil {
		fail(fmt.Errorf("no profile matches that dbid: %w", err))
	}

	fmt.Printf("history of profile %d (%s)\n", profile.ID, profile.Name)
	fmt.Printf("current name styles: %s, %s, %s\n", profile.Name, profile.NameUpper, profile.NameLower)

	events, err := eng.History(ctx, profile.ID)
	if err != nil {
		fail(err)
	}
	for _, ev := range events {
		marker := ""
		if ev.IsInitialName {
			marker = " (initial)"
		}
		if *unix {
			fmt.Printf("%d %s%s\n", ev.ActiveFrom.Unix(), ev.Name, marker)
		} else {
			fmt.Printf("%s %s%s\n", ev.ActiveFrom.Format(time.RFC3339), ev.Name, marker)
		}
	}
}
