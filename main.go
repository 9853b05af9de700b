package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/distantorigin/gamesync/internal/audio"
)

var (
	appVersion = "0.1.0"

	cfgFile     string
	quietFlag   bool
	yesFlag     bool
	logLevel    string
	branchFlag  string
	versionFlag int
	noLaunch    bool
	jsonFlag    bool
	transport   string
	listenAddr  string
)

var rootCmd = &cobra.Command{
	Use:           "gamesync",
	Short:         "Keep game client installs up to date",
	Long:          `gamesync installs, patches and launches game client builds, one instance per branch and version.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Update a branch and launch the game",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd.Context())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a branch is up to date",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "List installed instances",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listInstances()
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <branch> <version>",
	Short: "Delete an installed instance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return deleteInstance(args[0], args[1])
	},
}

var modsCmd = &cobra.Command{
	Use:   "mods",
	Short: "Manage mods of an instance",
}

var modsListCmd = &cobra.Command{
	Use:   "list <branch> <version>",
	Short: "List installed mods",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return listMods(args[0], args[1])
	},
}

var modsAddCmd = &cobra.Command{
	Use:   "add <branch> <version> <file>",
	Short: "Install a mod file into an instance",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return addMod(args[0], args[1], args[2])
	},
}

var modsEnableCmd = &cobra.Command{
	Use:   "enable <branch> <version> <id>",
	Short: "Enable a mod",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleMod(args[0], args[1], args[2], true)
	},
}

var modsDisableCmd = &cobra.Command{
	Use:   "disable <branch> <version> <id>",
	Short: "Disable a mod",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleMod(args[0], args[1], args[2], false)
	},
}

var modsRemoveCmd = &cobra.Command{
	Use:   "remove <branch> <version> <id>",
	Short: "Remove a mod",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return removeMod(args[0], args[1], args[2])
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Move legacy install layouts into instance folders",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return migrate()
	},
}

var exitGameCmd = &cobra.Command{
	Use:   "exit-game",
	Short: "Stop the running game",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return exitGame()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve engine operations to a front-end",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var switchCmd = &cobra.Command{
	Use:   "switch [branch]",
	Short: "Choose the branch to follow",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var branch string
		if len(args) > 0 {
			branch = args[0]
		}
		return switchBranch(cmd.Context(), branch)
	},
}

var shortcutCmd = &cobra.Command{
	Use:   "shortcut",
	Short: "Create a desktop shortcut that runs a branch",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return createShortcut()
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Write the effective configuration to the config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeConfig()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gamesync v%s\n", appVersion)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is gamesync.yaml in the data directory)")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress progress output and sounds")
	rootCmd.PersistentFlags().BoolVarP(&yesFlag, "yes", "y", false, "Answer yes to every prompt")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides config)")

	runCmd.Flags().StringVarP(&branchFlag, "branch", "b", "", "Branch to update (default is the followed branch)")
	runCmd.Flags().IntVar(&versionFlag, "version", 0, "Version to install (default is the latest)")
	runCmd.Flags().BoolVar(&noLaunch, "no-launch", false, "Update without starting the game")

	statusCmd.Flags().StringVarP(&branchFlag, "branch", "b", "", "Branch to check (default is the followed branch)")
	statusCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the status as JSON")
	instancesCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the instances as JSON")
	shortcutCmd.Flags().StringVarP(&branchFlag, "branch", "b", "", "Branch the shortcut runs (default is the followed branch)")

	serveCmd.Flags().StringVar(&transport, "transport", "stdio", "Transport: stdio or ws")
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "Listen address for the ws transport (default from config)")

	modsCmd.AddCommand(modsListCmd, modsAddCmd, modsEnableCmd, modsDisableCmd, modsRemoveCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(instancesCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(modsCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(exitGameCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(switchCmd)
	rootCmd.AddCommand(shortcutCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	// Keep panics short, without stack traces full of local paths
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\nOops, something broke: %v\n", r)
			fmt.Fprintln(os.Stderr, "Let the developers know what happened.")
			audio.NewPlayer(quietFlag, 0).Play(audio.CueFailure)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
