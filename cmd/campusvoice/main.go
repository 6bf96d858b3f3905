package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ent0n29/campusvoice/internal/app"
	"github.com/ent0n29/campusvoice/internal/authstate"
	"github.com/ent0n29/campusvoice/internal/capture"
	"github.com/ent0n29/campusvoice/internal/config"
	"github.com/ent0n29/campusvoice/internal/tui"
)

const usage = `usage: campusvoice <command> [flags]

commands:
  call      start the interactive call screen
  serve     run headless with the local control API
  devices   list audio devices
  say       speak a line of text through the reply speaker
  login     store an access token and student id
  logout    forget stored credentials
`

var errUsage = errors.New("invalid usage")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "campusvoice: %v\n", err)
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "call":
		return runCall(cfg, rest)
	case "serve":
		return runServe(cfg, rest)
	case "devices":
		return runDevices(cfg, rest, stdout)
	case "say":
		return runSay(cfg, rest)
	case "login":
		return runLogin(cfg, rest, stdout)
	case "logout":
		return runLogout(cfg, rest, stdout)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
	}
	return nil
}

// setupLogging routes the standard logger to a rotating file when path is
// set. The returned closer is never nil.
func setupLogging(path string) (io.Closer, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	log.SetOutput(rotator)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return rotator, nil
}

func defaultTUILogPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "campusvoice", "campusvoice.log")
}

func runCall(cfg config.Config, args []string) error {
	fs := newFlagSet("call")
	captions := fs.Bool("captions", cfg.Captions, "show live captions")
	autoTTS := fs.Bool("auto-tts", cfg.AutoTTS, "speak replies automatically")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	cfg.Captions = *captions
	cfg.AutoTTS = *autoTTS

	// stdout belongs to the call screen, so logs always go to a file.
	logPath := cfg.LogFile
	if logPath == "" {
		logPath = defaultTUILogPath()
	}
	closer, err := setupLogging(logPath)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			log.Printf("cleanup failed: %v", err)
		}
	}()

	watcher := res.Devices.Watch(ctx, cfg.DevicePollInterval, logDeviceChange)
	defer watcher.Close()

	sub := res.Call.Subscribe()
	defer sub.Close()

	model := tui.New(res.Call, res.Devices, res.Playback, sub.C)
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("call screen: %w", err)
	}
	return nil
}

func runServe(cfg config.Config, args []string) error {
	fs := newFlagSet("serve")
	addr := fs.String("addr", cfg.BindAddr, "control API listen address")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	cfg.BindAddr = *addr

	closer, err := setupLogging(cfg.LogFile)
	if err != nil {
		return err
	}
	defer closer.Close()

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	res, err := app.Build(runCtx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			log.Printf("cleanup failed: %v", err)
		}
	}()

	watcher := res.Devices.Watch(runCtx, cfg.DevicePollInterval, logDeviceChange)
	defer watcher.Close()

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           res.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listenErr := make(chan error, 1)
	go func() {
		log.Printf("control api listening on %s (audio: %s)", cfg.BindAddr, res.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	select {
	case <-sigCh:
		log.Printf("shutdown signal received")
	case err := <-listenErr:
		return fmt.Errorf("listen error: %w", err)
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
	return nil
}

func runDevices(cfg config.Config, args []string, stdout io.Writer) error {
	fs := newFlagSet("devices")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	closer, err := setupLogging(cfg.LogFile)
	if err != nil {
		return err
	}
	defer closer.Close()

	res, err := app.Build(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer res.Cleanup()

	printDevices(stdout, "inputs", res.Devices.Inputs(), res.Devices.SelectedInput())
	printDevices(stdout, "outputs", res.Devices.Outputs(), res.Devices.SelectedOutput())
	return nil
}

func printDevices(w io.Writer, title string, devices []capture.Device, selected string) {
	fmt.Fprintf(w, "%s:\n", title)
	if len(devices) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	for _, d := range devices {
		mark := " "
		if d.ID == selected {
			mark = "*"
		}
		fmt.Fprintf(w, "  %s %-12s %s\n", mark, d.ID, d.Label)
	}
}

func runSay(cfg config.Config, args []string) error {
	fs := newFlagSet("say")
	timeout := fs.Duration("timeout", time.Minute, "give up after this long")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if text == "" {
		return fmt.Errorf("%w: say needs text", errUsage)
	}
	cfg.AutoTTS = true

	closer, err := setupLogging(cfg.LogFile)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	res, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer res.Cleanup()

	// Running the command is the user gesture.
	res.Playback.Unlock()
	h, err := res.Speaker.Speak(ctx, text)
	if err != nil {
		return fmt.Errorf("speak: %w", err)
	}
	if h == nil {
		return nil
	}
	select {
	case <-h.Done():
		return h.Err()
	case <-ctx.Done():
		h.Stop()
		return ctx.Err()
	}
}

func runLogin(cfg config.Config, args []string, stdout io.Writer) error {
	fs := newFlagSet("login")
	token := fs.String("token", "", "bearer token issued by the helpdesk")
	studentID := fs.String("student-id", "", "student id sent with every request")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*token) == "" && strings.TrimSpace(*studentID) == "" {
		return fmt.Errorf("%w: login needs -token or -student-id", errUsage)
	}

	store, err := authstate.Load(cfg.AuthStatePath)
	if err != nil {
		return err
	}
	if *token != "" {
		if err := store.SetToken(*token); err != nil {
			return err
		}
	}
	if *studentID != "" {
		if err := store.SetStudentID(*studentID); err != nil {
			return err
		}
	}
	fmt.Fprintf(stdout, "signed in as %s\n", store.StudentID())
	return nil
}

func runLogout(cfg config.Config, args []string, stdout io.Writer) error {
	fs := newFlagSet("logout")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	store, err := authstate.Load(cfg.AuthStatePath)
	if err != nil {
		return err
	}
	if err := store.Clear(); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "signed out")
	return nil
}

func logDeviceChange(inputs, outputs []capture.Device) {
	log.Printf("audio devices changed: %d inputs, %d outputs", len(inputs), len(outputs))
}
