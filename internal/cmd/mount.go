package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/codegrade/cgfs/internal/api"
	"github.com/codegrade/cgfs/internal/config"
	"github.com/codegrade/cgfs/internal/controlsocket"
	"github.com/codegrade/cgfs/internal/engine"
	"github.com/codegrade/cgfs/internal/vfs"
)

var mountCmd = &cobra.Command{
	Use:   "mount USERNAME MOUNTPOINT",
	Short: "Mount a course as a filesystem",
	Args:  cobra.ExactArgs(2),
	RunE:  runMount,
}

func init() {
	rootCmd.AddCommand(mountCmd)
	mountCmd.Flags().StringP("password", "p", "", "password; else $CGFS_PASSWORD; else prompt")
	mountCmd.Flags().StringP("url", "u", "", "API base URL; else $CGAPI_BASE_URL; else the default")
	mountCmd.Flags().BoolP("verbose", "v", false, "debug logging")
	mountCmd.Flags().BoolP("quiet", "q", false, "accepted, but log output is not filtered: log lines carry no level")
	mountCmd.Flags().BoolP("all-submissions", "a", false, "show all submissions, not only the latest per user")
	mountCmd.Flags().BoolP("fixed", "f", false, "mount server-backed files read-only; writes go to scratch")
	mountCmd.Flags().BoolP("rubric-edit", "r", false, "disable append-only enforcement on .cg-edit-rubric.md")
	mountCmd.Flags().BoolP("assigned-to-me", "m", false, "filter submissions by assignee when applicable")
}

func runMount(cmd *cobra.Command, args []string) error {
	username, mountpoint := args[0], args[1]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if url, _ := cmd.Flags().GetString("url"); url != "" {
		cfg.BaseURL = url
	}
	quiet, _ := cmd.Flags().GetBool("quiet")
	verbose, _ := cmd.Flags().GetBool("verbose")
	switch {
	case verbose:
		log.SetFlags(log.Ltime | log.Lshortfile)
	case quiet:
		log.SetOutput(os.Stderr)
	}

	password, err := resolvePassword(cmd)
	if err != nil {
		return fmt.Errorf("failed to resolve password: %w", err)
	}

	fixed, _ := cmd.Flags().GetBool("fixed")
	allSubs, _ := cmd.Flags().GetBool("all-submissions")
	rubricEdit, _ := cmd.Flags().GetBool("rubric-edit")
	assignedOnly, _ := cmd.Flags().GetBool("assigned-to-me")

	client := api.NewClient(cfg.BaseURL, fixed)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loginUser, err := client.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	eng := engine.New(client, loginUser.ID, username,
		engine.WithFixed(fixed),
		engine.WithLatestOnly(!allSubs),
		engine.WithAssignedOnly(assignedOnly),
		engine.WithRubricAppendOnly(!rubricEdit),
		engine.WithFreshness(cfg.Cache.Freshness),
	)

	log.Printf("loading courses for %s", username)
	if err := eng.LoadCourses(ctx); err != nil {
		return fmt.Errorf("failed to load courses: %w", err)
	}

	if err := os.MkdirAll(mountpoint, 0755); err != nil {
		return fmt.Errorf("failed to create mountpoint: %w", err)
	}

	// The control socket is a real kernel-visible socket file, which a FUSE
	// inode can't be: it binds next to the mountpoint, not inside it. The
	// mounted filesystem's .api.socket is just a read-only text file
	// pointing at this real path.
	socketPath := strings.TrimRight(mountpoint, "/") + ".sock"
	ln, err := controlsocket.Listen(socketPath)
	if err != nil {
		return fmt.Errorf("failed to open control socket: %w", err)
	}
	eng.SetSocketAddress(controlsocket.Address(socketPath, ln))

	root := vfs.NewRoot(eng)
	server, err := fs.Mount(mountpoint, root, &fs.Options{})
	if err != nil {
		ln.Close()
		return fmt.Errorf("failed to mount: %w", err)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		socketServer := &controlsocket.Server{Engine: eng}
		return socketServer.Serve(gctx, ln)
	})
	group.Go(func() error {
		server.Wait()
		return nil
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			log.Print("unmounting...")
			ln.Close()
			cancel()
			server.Unmount()
		case <-gctx.Done():
		}
	}()

	fmt.Printf("mounted %s at %s\n", username, mountpoint)
	return group.Wait()
}

// resolvePassword follows the precedence flag > $CGFS_PASSWORD > TTY prompt
// (or a single line from stdin when it isn't a terminal).
func resolvePassword(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("password"); p != "" {
		return p, nil
	}
	if p := os.Getenv("CGFS_PASSWORD"); p != "" {
		return p, nil
	}

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		data, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
