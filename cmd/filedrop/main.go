package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"filedrop/internal/app"
	"filedrop/internal/client"
	"filedrop/internal/config"
	"filedrop/internal/drop"
	"filedrop/internal/fs"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// readConfig loads the config file named by the application defaults.
func readConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}

	path := defaults["config_path"]
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, path, fmt.Errorf("no config at %s: run `filedrop config init` first", path)
	}
	cfg, err := config.ReadFromFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("reading config: %w", err)
	}
	return cfg, path, nil
}

// newClient builds an API client from the persistent --server and --as flags.
func newClient(cmd *cobra.Command) (*client.Client, error) {
	serverURL, _ := cmd.Flags().GetString("server")
	if serverURL == "" {
		defaults, err := app.GetDefaults()
		if err != nil {
			return nil, fmt.Errorf("getting defaults: %w", err)
		}
		serverURL = defaults["server_url"]
	}
	user, _ := cmd.Flags().GetString("as")
	return client.New(serverURL, user), nil
}

var rootCmd = &cobra.Command{
	Use:          "filedrop",
	Short:        "Ephemeral file sharing sessions",
	SilenceUsage: true,
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := readConfig()
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Addr = addr
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.NewFiledropApp(ctx, cfg)
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer a.Close()

		fmt.Printf("Serving on %s (run %s)\n", cfg.Addr, a.RunID())
		return a.ListenAndServe(ctx)
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if encrypt, _ := cmd.Flags().GetBool("encrypt"); encrypt {
			cfg.Encryption.Type = "age"
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := readConfig()
		if err != nil {
			return err
		}
		if cfg.Blob.S3SecretAccessKey != "" {
			cfg.Blob.S3SecretAccessKey = "********"
		}

		fmt.Printf("# Configuration from %s\n\n", path)
		m := &config.Manager{}
		return m.Write(os.Stdout, cfg)
	},
}

// session command
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new session",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		id, err := c.CreateSession(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

// upload command
var uploadCmd = &cobra.Command{
	Use:   "upload SESSION PATH",
	Short: "Upload a file, or the files in a directory, to a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		session := args[0]

		absPath, info, err := fs.Resolve(args[1])
		if err != nil {
			return err
		}
		contentType, _ := cmd.Flags().GetString("type")
		encrypted, _ := cmd.Flags().GetBool("encrypted")

		if !info.IsDir() {
			id, _ := cmd.Flags().GetString("id")
			if id == "" {
				id = filepath.Base(absPath)
			}
			return uploadFile(cmd, c, session, fs.LocalFile{Path: absPath, ID: id, Size: info.Size()}, contentType, encrypted)
		}

		recursive, _ := cmd.Flags().GetBool("recursive")
		ignore, err := fs.LoadIgnore(absPath)
		if err != nil {
			return err
		}
		files, err := fs.FindFiles(absPath, recursive, ignore)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no files to upload in %s", absPath)
		}
		if len(files) > drop.MaxFiles {
			return fmt.Errorf("%d files found, a session holds at most %d", len(files), drop.MaxFiles)
		}
		for _, f := range files {
			if err := uploadFile(cmd, c, session, f, contentType, encrypted); err != nil {
				return fmt.Errorf("uploading %s: %w", f.ID, err)
			}
		}
		return nil
	},
}

func uploadFile(cmd *cobra.Command, c *client.Client, session string, lf fs.LocalFile, contentType string, encrypted bool) error {
	f, err := os.Open(lf.Path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", lf.Path, err)
	}
	defer f.Close()

	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(lf.Path))
	}
	stored, err := c.Upload(cmd.Context(), session, lf.ID, f, contentType, encrypted)
	if err != nil {
		return err
	}
	fmt.Printf("Uploaded %s (%d bytes)\n", stored, lf.Size)
	return nil
}

// download command
var downloadCmd = &cobra.Command{
	Use:   "download SESSION ID",
	Short: "Download a file from a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		session, id := args[0], args[1]

		out, _ := cmd.Flags().GetString("output")
		if out == "" {
			out = filepath.Base(id)
		}

		var w io.Writer = os.Stdout
		if out != "-" {
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("creating %s: %w", out, err)
			}
			defer f.Close()
			w = f
		}

		info, err := c.Download(cmd.Context(), session, id, w)
		if err != nil {
			if out != "-" {
				os.Remove(out)
			}
			return err
		}
		if out != "-" {
			fmt.Printf("Downloaded %s (%d bytes, %s)\n", out, info.Size, info.ContentType)
		}
		return nil
	},
}

// rm command
var rmCmd = &cobra.Command{
	Use:   "rm SESSION ID",
	Short: "Delete a file from a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		if err := c.Delete(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[1])
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch SESSION",
	Short: "Follow a session's activity and chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		feed, err := c.Dial(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer feed.Close()

		name, _ := cmd.Flags().GetString("as")
		return client.RunWatch(feed, args[0], name)
	},
}

func init() {
	rootCmd.PersistentFlags().String("server", "", "Server URL (default $FILEDROP_SERVER or http://localhost:8787)")
	rootCmd.PersistentFlags().String("as", "", "Display name to act as")

	// serve
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides config)")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().Bool("encrypt", false, "Seal stored files with an age identity")
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)

	// session subcommands
	sessionCmd.AddCommand(sessionCreateCmd)
	rootCmd.AddCommand(sessionCmd)

	// file commands
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().String("id", "", "File id in the session when uploading one file (default: file name)")
	uploadCmd.Flags().String("type", "", "Content type (default: guessed from extension)")
	uploadCmd.Flags().Bool("encrypted", false, "Mark the file as encrypted by the client")
	uploadCmd.Flags().BoolP("recursive", "r", false, "Descend into subdirectories when uploading a directory")
	rootCmd.AddCommand(downloadCmd)
	downloadCmd.Flags().StringP("output", "o", "", "Output path, or - for stdout (default: file id)")
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(watchCmd)
}
