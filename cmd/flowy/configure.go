package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/flowy-gtd/flowy/internal/config"
	"github.com/flowy-gtd/flowy/internal/fs"
	"github.com/flowy-gtd/flowy/internal/sync"
	"github.com/flowy-gtd/flowy/internal/ui"
	"github.com/flowy-gtd/flowy/internal/webdav"
)

var configureCmd = &cobra.Command{
	Use:     "configure",
	GroupID: "setup",
	Short:   "Set the sync server and local storage",
	Long: `Set the WebDAV server and where the local tree lives, then test the
connection and save the configuration.

Without flags on a terminal an interactive form is shown.

Example usage:
  flowy configure
  flowy configure --url https://dav.jianguoyun.com/dav --username me@example.com
  flowy configure --platform web --namespace work`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}

		if !anyChanged(cmd, configureFlags...) && ui.IsInteractive(os.Stdin) {
			if err := configureForm(cfg); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					return nil
				}
				return err
			}
		} else {
			applyConfigureFlags(cmd, cfg)
		}

		if _, err := cfg.FSOptions(); err != nil {
			return err
		}
		if err := validateURL(cfg.WebDAV.URL); err != nil {
			return err
		}

		out := ui.NewPrinter(os.Stdout)
		noCheck, _ := cmd.Flags().GetBool("no-check")
		if cfg.SyncConfigured() && !noCheck {
			if err := checkServer(ctx, cfg); err != nil {
				return err
			}
			out.Success("Connected to %s", sync.RemoteID(cfg.WebDAVOptions()))
		}

		if err := config.Save(path, cfg); err != nil {
			return err
		}
		out.Success("Saved %s", path)
		return nil
	},
}

var configureFlags = []string{"url", "username", "password", "remote-path", "platform", "base-path", "namespace"}

func anyChanged(cmd *cobra.Command, names ...string) bool {
	for _, name := range names {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}

func applyConfigureFlags(cmd *cobra.Command, cfg *config.Config) {
	fields := map[string]*string{
		"url":         &cfg.WebDAV.URL,
		"username":    &cfg.WebDAV.Username,
		"password":    &cfg.WebDAV.Password,
		"remote-path": &cfg.WebDAV.RemotePath,
		"platform":    &cfg.Storage.Platform,
		"base-path":   &cfg.Storage.BasePath,
		"namespace":   &cfg.Storage.Namespace,
	}
	for name, dst := range fields {
		if cmd.Flags().Changed(name) {
			*dst, _ = cmd.Flags().GetString(name)
		}
	}
}

func configureForm(cfg *config.Config) error {
	platform := cfg.Storage.Platform
	if platform == "" {
		platform = string(fs.DetectPlatform())
	}
	options := make([]huh.Option[string], 0, len(fs.RegisteredPlatforms()))
	for _, p := range fs.RegisteredPlatforms() {
		options = append(options, huh.NewOption(string(p), string(p)))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Storage").
				Description("Where the local tree is kept").
				Options(options...).
				Value(&platform),
			huh.NewInput().
				Title("Data directory").
				Description("Leave empty for the platform default").
				Value(&cfg.Storage.BasePath),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("WebDAV URL").
				Placeholder("https://dav.example.com/remote.php/dav/files/me").
				Value(&cfg.WebDAV.URL).
				Validate(validateURL),
			huh.NewInput().
				Title("Username").
				Value(&cfg.WebDAV.Username),
			huh.NewInput().
				Title("Password").
				Description("An app password is recommended").
				EchoMode(huh.EchoModePassword).
				Value(&cfg.WebDAV.Password),
			huh.NewInput().
				Title("Remote folder").
				Value(&cfg.WebDAV.RemotePath),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	cfg.Storage.Platform = platform
	return nil
}

func validateURL(s string) error {
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server URL %q", s)
	}
	return nil
}

// checkServer checks the server with the configured credentials.
func checkServer(ctx context.Context, cfg *config.Config) error {
	_, err := webdav.Dial(ctx, cfg.WebDAVOptions())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, webdav.ErrAuth):
		return fmt.Errorf("the server rejected the credentials: %w", err)
	case errors.Is(err, webdav.ErrNetwork):
		return fmt.Errorf("could not reach %s (use --no-check to save anyway): %w",
			strings.TrimRight(cfg.WebDAV.URL, "/"), err)
	default:
		return err
	}
}

func init() {
	f := configureCmd.Flags()
	f.String("url", "", "WebDAV server URL")
	f.String("username", "", "WebDAV username")
	f.String("password", "", "WebDAV password (prefer FLOWY_WEBDAV_PASSWORD)")
	f.String("remote-path", "", "folder on the server (default /GTD)")
	f.String("platform", "", "storage backend: desktop, ios, android or web")
	f.String("base-path", "", "local data directory")
	f.String("namespace", "", "namespace of the web backend")
	f.Bool("no-check", false, "save without testing the connection")
	rootCmd.AddCommand(configureCmd)
}
