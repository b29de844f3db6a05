package db

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/pflag"
)

// ErrUsage is returned by RunMigrateCommand for malformed invocations.
var ErrUsage = errors.New("invalid migrate usage")

// RunMigrateCommand handles the 'migrate' subcommand.
func RunMigrateCommand(args []string, dbPath string, stdout io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(stdout)
		return ErrUsage
	}
	action, rest := args[0], args[1:]
	if action == "help" {
		PrintMigrateHelp(stdout)
		return nil
	}

	// Migrations manage the schema, so open without applying them.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		if err := database.MigrateUp(); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "All migrations applied")
		return printVersion(database, stdout)

	case "down":
		if err := database.MigrateDown(); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "Rolled back one migration")
		return printVersion(database, stdout)

	case "status":
		st, err := database.GetMigrationStatus()
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Current version: %d\n", st.CurrentVersion)
		fmt.Fprintf(stdout, "Latest version: %d\n", st.LatestVersion)
		fmt.Fprintf(stdout, "Dirty: %v\n", st.Dirty)
		fmt.Fprintf(stdout, "Schema migrations table exists: %v\n", st.TableExists)
		if st.Dirty {
			fmt.Fprintln(stdout, "\nWARNING: a migration failed mid-execution.")
			fmt.Fprintln(stdout, "Inspect the database, then run: xrbridge migrate force <version> --yes")
		} else if st.Pending() {
			fmt.Fprintf(stdout, "Outstanding migrations: %d\n", st.LatestVersion-st.CurrentVersion)
		}
		return nil

	case "version":
		v, err := versionArg(rest)
		if err != nil {
			return err
		}
		if err := database.MigrateTo(uint(v)); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Migrated to version %d\n", v)
		return nil

	case "force":
		fs := pflag.NewFlagSet("migrate force", pflag.ContinueOnError)
		fs.SetOutput(stdout)
		yes := fs.Bool("yes", false, "confirm forcing the recorded version")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		v, err := versionArg(fs.Args())
		if err != nil {
			return err
		}
		if !*yes {
			fmt.Fprintf(stdout, "Forcing the version to %d is only for recovering a dirty database.\n", v)
			fmt.Fprintln(stdout, "Re-run with --yes to continue.")
			return nil
		}
		if err := database.MigrateForce(int(v)); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Migration version forced to %d\n", v)
		return nil

	case "baseline":
		v, err := versionArg(rest)
		if err != nil {
			return err
		}
		if err := database.BaselineAtVersion(uint(v)); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Database baselined at version %d\n", v)
		return nil

	default:
		fmt.Fprintf(stdout, "Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp(stdout)
		return ErrUsage
	}
}

func versionArg(args []string) (uint64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%w: expected a single version number", ErrUsage)
	}
	v, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid version number %q", ErrUsage, args[0])
	}
	return v, nil
}

func printVersion(database *DB, stdout io.Writer) error {
	version, dirty, err := database.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

// PrintMigrateHelp writes usage for the migrate subcommand.
func PrintMigrateHelp(w io.Writer) {
	fmt.Fprint(w, `Usage: xrbridge migrate <action> [args]

Actions:
  up                    apply all pending migrations
  down                  roll back the most recent migration
  status                show current and latest schema versions
  version <n>           migrate up or down to version n
  force <n> --yes       record version n as clean without running it
  baseline <n>          mark an unversioned database as being at version n
  help                  show this message
`)
}
