package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/willowlend/intake-client/pkg/api"
	"github.com/willowlend/intake-client/pkg/chat"
	"github.com/willowlend/intake-client/pkg/config"
	"github.com/willowlend/intake-client/pkg/invalidation"
	"github.com/willowlend/intake-client/pkg/notify"
)

var (
	configFile string
	cfg        config.Config

	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	systemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

var rootCmd = &cobra.Command{
	Use:   "intake-chat",
	Short: "Client runtime for the conversational application intake",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return err
		}
		level, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			level = zerolog.InfoLevel
		}
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
		return nil
	},
}

func tokenFromEnv() string { return os.Getenv("INTAKE_TOKEN") }

func buildRuntime(ctx context.Context) (*chat.Controller, *chat.SessionManager, *chat.UploadCoordinator, func(), error) {
	token := chat.TokenFunc(tokenFromEnv)
	client := api.NewClient(cfg.APIBaseURL, token)

	if err := os.MkdirAll(filepath.Dir(cfg.SessionDBPath), 0o755); err != nil {
		return nil, nil, nil, nil, err
	}
	dsn, err := chat.SQLiteSlotDSNForFile(cfg.SessionDBPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	slot, err := chat.NewSQLiteSlotStore(dsn)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	sessions := chat.NewSessionManager(client, slot, token)
	ctrl := chat.NewController(client, sessions)
	uploads := chat.NewUploadCoordinator(client, sessions, ctrl)

	sess, history, err := sessions.ResumeOrCreate(ctx)
	if err != nil {
		_ = slot.Close()
		return nil, nil, nil, nil, err
	}
	log.Debug().Str("session_id", sess.SessionID).Msg("session ready")
	ctrl.ReplayHistory(history)

	if tokenFromEnv() != "" {
		if _, err := sessions.LinkToIdentity(ctx); err != nil {
			log.Warn().Err(err).Msg("session link failed")
		}
	}
	cleanup := func() { _ = slot.Close() }
	return ctrl, sessions, uploads, cleanup, nil
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive intake conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ctrl, sessions, uploads, cleanup, err := buildRuntime(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		render := renderer()
		ctrl.OnChange(render)
		render(ctrl.State())

		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "/quit":
				return nil
			case line == "/new":
				ctrl.Reset()
				_, history, err := sessions.StartNew(ctx)
				if err != nil {
					fmt.Println(errorStyle.Render("could not start a new chat: " + err.Error()))
				} else {
					ctrl.ReplayHistory(history)
				}
			case strings.HasPrefix(line, "/upload "):
				path := strings.TrimSpace(strings.TrimPrefix(line, "/upload "))
				if err := uploadPath(ctx, uploads, path); err != nil {
					fmt.Println(errorStyle.Render("upload failed: " + err.Error()))
				}
			case line != "":
				if err := ctrl.Send(ctx, line); err != nil {
					fmt.Println(errorStyle.Render(err.Error()))
				}
			}
			if ctx.Err() != nil {
				return nil
			}
			fmt.Print("> ")
		}
		return scanner.Err()
	},
}

func uploadPath(ctx context.Context, uploads *chat.UploadCoordinator, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return uploads.Upload(ctx, f, filepath.Base(path))
}

// renderer prints newly appended messages and turn status transitions.
func renderer() func(chat.State) {
	seen := 0
	thinking := false
	return func(st chat.State) {
		for _, m := range st.Messages[seen:] {
			switch m.Role {
			case chat.RoleUser:
				fmt.Println(userStyle.Render("you: ") + m.Content)
			default:
				if m.MessageType == chat.MessageTypeText {
					fmt.Println(assistantStyle.Render("assistant: ") + m.Content)
				} else {
					fmt.Println(systemStyle.Render("[" + m.MessageType + "]"))
				}
			}
		}
		seen = len(st.Messages)
		if st.Streaming && !thinking {
			label := "thinking"
			if st.CurrentTool != "" {
				label = "using " + st.CurrentTool
			}
			fmt.Println(systemStyle.Render("… " + label))
		}
		thinking = st.Streaming
		if st.FileRequest != nil {
			fmt.Println(systemStyle.Render("requested document: " + st.FileRequest.DocumentType + " (/upload <path>)"))
		}
		if st.AuthRequired {
			fmt.Println(systemStyle.Render("sign in to continue (set INTAKE_TOKEN)"))
		}
		if st.Err != "" {
			fmt.Println(errorStyle.Render(st.Err))
		}
	}
}

var (
	watchApplicationID string
	watchServicer      bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow out-of-band backend events and print invalidations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		bus := invalidation.NewBus()
		defer func() { _ = bus.Close() }()

		var notifiers []*notify.Notifier
		if watchApplicationID != "" {
			sink := notify.NewApplicationDispatcher(bus, watchApplicationID, "me")
			n := notify.NewNotifier(cfg.ApplicationChannelURL(watchApplicationID), tokenFromEnv, sink,
				notify.WithHeartbeat(cfg.HeartbeatInterval))
			notifiers = append(notifiers, n)
		}
		if watchServicer {
			sink := notify.NewServicerDispatcher(bus, "me")
			n := notify.NewNotifier(cfg.ServicerChannelURL(), tokenFromEnv, sink,
				notify.WithHeartbeat(cfg.HeartbeatInterval))
			notifiers = append(notifiers, n)
		}
		if len(notifiers) == 0 {
			return fmt.Errorf("nothing to watch: pass --application or --servicer")
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			ch, err := bus.Subscribe(gctx)
			if err != nil {
				return err
			}
			for in := range ch {
				for _, k := range in.Keys {
					fmt.Println(systemStyle.Render("invalidate ") + string(k))
				}
			}
			return nil
		})
		for _, n := range notifiers {
			n.Start(gctx)
		}
		defer func() {
			for _, n := range notifiers {
				n.Close()
			}
		}()
		<-gctx.Done()
		return g.Wait()
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")
	watchCmd.Flags().StringVar(&watchApplicationID, "application", "", "application id to watch")
	watchCmd.Flags().BoolVar(&watchServicer, "servicer", false, "watch the servicer queue channel")
	rootCmd.AddCommand(chatCmd, watchCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
