package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/apiclient"
	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/config"
	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/events"
	applog "github.com/Rifat-Hossain49/MediMitro-sub001/internal/logger"
	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/models"
	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/syncloop"
	"github.com/Rifat-Hossain49/MediMitro-sub001/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const usage = `commands:
  /open <doctorId> <patientId>   select a conversation
  /close                         leave the current conversation
  /attach <path> [caption]       send a file to the current conversation
  /quit                          exit
anything else is sent as a text message`

func main() {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatpoll: %v\n", err)
		os.Exit(2)
	}

	baseURL := flag.String("api", cfg.APIBaseURL, "messaging API base URL")
	token := flag.String("token", cfg.APIToken, "bearer token of the signed-in doctor or patient")
	interval := flag.Duration("interval", cfg.PollInterval, "poll interval")
	push := flag.Bool("push", true, "subscribe to websocket events for immediate refresh")
	flag.Parse()

	log := applog.New(cfg.AppEnv, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	if *token == "" {
		log.Fatal("API_TOKEN or -token is required")
	}
	// The token is decoded locally only to learn the viewer. The server
	// verifies it on every request.
	viewer, err := viewerFromToken(*token)
	if err != nil {
		log.Fatal("read token", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := apiclient.New(*baseURL, *token, nil)
	view := &terminalView{viewer: viewer}
	loop := syncloop.New(client, syncloop.Config{
		Viewer:   viewer.Type,
		Interval: *interval,
		Logger:   log.Named("sync"),
		OnUpdate: view.render,
	})

	fmt.Println(usage)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})
	if *push {
		g.Go(func() error {
			events.KeepSubscribed(gctx, log.Named("push"), events.DefaultBackoff, func(ctx context.Context) error {
				return client.Subscribe(ctx, func(models.ConversationEvent) {
					loop.Nudge()
				})
			})
			return nil
		})
	}
	g.Go(func() error {
		defer stop()
		return readCommands(gctx, client, loop, viewer)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal("chatpoll stopped", zap.Error(err))
	}
}

func readCommands(ctx context.Context, client *apiclient.Client, loop *syncloop.Loop, viewer models.Actor) error {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleCommand(ctx, client, loop, viewer, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func handleCommand(ctx context.Context, client *apiclient.Client, loop *syncloop.Loop, viewer models.Actor, line string) bool {
	if line == "" {
		return false
	}
	fields := strings.Fields(line)

	switch fields[0] {
	case "/quit":
		return true
	case "/open":
		if len(fields) != 3 {
			fmt.Println("usage: /open <doctorId> <patientId>")
			return false
		}
		if err := loop.Select(ctx, models.NewConversationKey(fields[1], fields[2])); err != nil {
			fmt.Printf("open failed: %v\n", err)
		}
	case "/close":
		loop.Deselect()
	case "/attach":
		if len(fields) < 2 {
			fmt.Println("usage: /attach <path> [caption]")
			return false
		}
		key, ok := selectedKey(loop)
		if !ok {
			return false
		}
		if err := sendFile(ctx, client, key, viewer, fields[1], strings.Join(fields[2:], " ")); err != nil {
			fmt.Printf("send failed, draft kept: %v\n", err)
			return false
		}
		loop.Nudge()
	default:
		key, ok := selectedKey(loop)
		if !ok {
			return false
		}
		_, err := client.Send(ctx, apiclient.SendRequest{
			DoctorID:   key.DoctorID,
			PatientID:  key.PatientID,
			SenderType: string(viewer.Type),
			Message:    line,
		})
		if err != nil {
			fmt.Printf("send failed, draft kept: %q: %v\n", line, err)
			return false
		}
		loop.Nudge()
	}
	return false
}

func sendFile(ctx context.Context, client *apiclient.Client, key models.ConversationKey, viewer models.Actor, path string, caption string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = client.SendWithAttachment(ctx, apiclient.SendRequest{
		DoctorID:   key.DoctorID,
		PatientID:  key.PatientID,
		SenderType: string(viewer.Type),
		Message:    caption,
	}, apiclient.Attachment{Filename: filepath.Base(path), Content: file})
	return err
}

func selectedKey(loop *syncloop.Loop) (models.ConversationKey, bool) {
	selected := loop.Snapshot().Selected
	if selected == nil {
		fmt.Println("no conversation selected, use /open first")
		return models.ConversationKey{}, false
	}
	return *selected, true
}

type terminalView struct {
	viewer models.Actor
}

func (v *terminalView) render(snapshot syncloop.Snapshot) {
	if snapshot.IsUpdating {
		return
	}

	fmt.Println("----")
	for _, conversation := range snapshot.Conversations {
		peer := conversation.DoctorName
		if v.viewer.Type == models.SenderDoctor {
			peer = conversation.PatientName
		}
		fmt.Printf("[%s] %s (%d unread): %s\n", conversation.Key(), peer, conversation.UnreadCount, conversation.LastMessage)
	}
	if snapshot.Selected != nil {
		fmt.Printf("== %s ==\n", snapshot.Selected)
		for _, message := range snapshot.Messages {
			line := message.Message
			if message.AttachmentURL != nil {
				line += " <" + *message.AttachmentURL + ">"
			}
			fmt.Printf("%s %-7s %s\n", message.CreatedAt.Local().Format("15:04:05"), message.SenderType, line)
		}
	}
	if snapshot.LastError != nil {
		fmt.Printf("(offline, last updated %s)\n", formatLastUpdate(snapshot.LastUpdate))
	}
}

func formatLastUpdate(ts time.Time) string {
	if ts.IsZero() {
		return "never"
	}
	return ts.Local().Format("15:04:05")
}

func viewerFromToken(token string) (models.Actor, error) {
	claims, err := utils.ParseUnverified(token)
	if err != nil {
		return models.Actor{}, err
	}
	actor := models.Actor{ID: claims.UserID, Type: models.SenderType(claims.Role)}
	if !actor.Type.Valid() {
		return models.Actor{}, fmt.Errorf("role %q cannot use messaging", claims.Role)
	}
	return actor, nil
}
