// Package main provides the playdeck command line player.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/playdeck/playdeck/internal/app/analytics"
	"github.com/playdeck/playdeck/internal/app/notification"
	"github.com/playdeck/playdeck/internal/app/playback"
	"github.com/playdeck/playdeck/internal/app/queue"
	"github.com/playdeck/playdeck/internal/app/session"
	"github.com/playdeck/playdeck/internal/app/storesync"
	"github.com/playdeck/playdeck/internal/domain/episode"
	"github.com/playdeck/playdeck/internal/infra/audiodev"
	"github.com/playdeck/playdeck/internal/infra/config"
	"github.com/playdeck/playdeck/internal/infra/logger"
	"github.com/playdeck/playdeck/internal/infra/storage"
	"github.com/playdeck/playdeck/internal/infra/streamping"
)

var (
	app        = kingpin.New("playdeck", "podcast play queue player")
	configPath = app.Flag("config", "Path to config file").Default("config/playdeck.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stderr)").String()

	// play command (default)
	playCmd      = app.Command("play", "Play the queue (default)").Default()
	playID       = playCmd.Flag("id", "Episode id to start").String()
	playTitle    = playCmd.Flag("title", "Episode title").String()
	playDate     = playCmd.Flag("date", "Episode date").String()
	playMP3      = playCmd.Flag("mp3", "Episode stream URL").String()
	playPage     = playCmd.Flag("page", "Episode page URL").String()
	playNoResume = playCmd.Flag("no-resume", "Ignore the saved session and position").Bool()

	// add command
	addCmd   = app.Command("add", "Add an episode to the play queue")
	addID    = addCmd.Flag("id", "Episode id").Required().String()
	addTitle = addCmd.Flag("title", "Episode title").String()
	addDate  = addCmd.Flag("date", "Episode date").String()
	addMP3   = addCmd.Flag("mp3", "Episode stream URL").String()
	addPage  = addCmd.Flag("page", "Episode page URL").String()
	addNext  = addCmd.Flag("next", "Insert at the head of the queue").Bool()

	// list command
	listCmd = app.Command("list", "Show the play queue")

	// remove command
	removeCmd = app.Command("remove", "Remove an episode from the queue")
	removeID  = removeCmd.Arg("id", "Episode id").Required().String()

	// move command
	moveCmd  = app.Command("move", "Move an episode one position")
	moveID   = moveCmd.Arg("id", "Episode id").Required().String()
	moveDown = moveCmd.Flag("down", "Move toward the tail instead of the head").Bool()

	// reorder command
	reorderCmd   = app.Command("reorder", "Move an episode to a queue position")
	reorderID    = reorderCmd.Arg("id", "Episode id").Required().String()
	reorderIndex = reorderCmd.Arg("index", "Target position (0-based)").Required().Int()

	// next command
	nextCmd = app.Command("next", "Promote the next queued episode to current")

	// clear command
	clearCmd = app.Command("clear", "Clear the play queue")

	// status command
	statusCmd = app.Command("status", "Show current episode and session")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{Output: "stderr", Level: "info"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	// Command-line flags win over the config file's logging section.
	if !*verbose && *logfile == "" {
		if err := logger.Init(logger.Config{
			Output: cfg.Logging.Output,
			Level:  cfg.Logging.Level,
			File:   cfg.Logging.File,
		}); err != nil {
			zlog.Fatal().Msgf("Failed to initialize logger: %v", err)
		}
	}

	if err := run(command, cfg); err != nil {
		zlog.Error().Msgf("Command failed: %v", err)
		os.Exit(1)
	}
}

// run opens the shared store and dispatches the parsed command. Using
// a separate function ensures defer statements are executed even when
// returning with an error.
func run(command string, cfg *config.Config) error {
	store, err := storage.Open(cfg.Data.Dir)
	if err != nil {
		return err
	}
	defer store.Close()

	hub := notification.NewHub()
	sink := analytics.Sink(analytics.NopSink{})
	if cfg.Analytics.Enabled {
		sink = analytics.LogSink{}
	}
	queueStore := queue.NewStore(store, hub, sink)
	sessions := session.NewStore(store)
	progress := session.NewProgressStore(store)

	switch command {
	case playCmd.FullCommand():
		return runPlay(cfg, store, hub, queueStore, sessions, progress, sink)
	case addCmd.FullCommand():
		return runAdd(queueStore)
	case listCmd.FullCommand():
		return runList(queueStore)
	case removeCmd.FullCommand():
		queueStore.Remove(*removeID)
		return runList(queueStore)
	case moveCmd.FullCommand():
		direction := -1
		if *moveDown {
			direction = 1
		}
		queueStore.Move(*moveID, direction)
		return runList(queueStore)
	case reorderCmd.FullCommand():
		queueStore.Reorder(*reorderID, *reorderIndex)
		return runList(queueStore)
	case nextCmd.FullCommand():
		if next := queueStore.Next(); next != nil {
			fmt.Printf("Now current: %s\n", next.Label())
		} else {
			fmt.Println("Queue is empty.")
		}
		return nil
	case clearCmd.FullCommand():
		queueStore.Clear()
		fmt.Println("Queue cleared.")
		return nil
	case statusCmd.FullCommand():
		return runStatus(queueStore, sessions, progress)
	}
	return nil
}

// runAdd enqueues one episode described by flags.
func runAdd(queueStore *queue.Store) error {
	ep := episode.Episode{
		ID:     *addID,
		Title:  *addTitle,
		Date:   *addDate,
		MP3URL: *addMP3,
		URL:    *addPage,
	}
	queueStore.Add(ep, queue.AddOptions{PlayNext: *addNext})
	return runList(queueStore)
}

// runList prints the queue table.
func runList(queueStore *queue.Store) error {
	fmt.Println(renderQueueTable(queueStore.GetState()))
	return nil
}

// runStatus prints the current episode, saved session and saved
// positions.
func runStatus(queueStore *queue.Store, sessions *session.Store, progress *session.ProgressStore) error {
	if current := queueStore.GetCurrent(); current != nil {
		fmt.Printf("Current:  %s\n", current.Label())
	} else {
		fmt.Println("Current:  (none)")
	}

	if saved := sessions.Load(); saved != nil {
		state := "paused"
		if saved.IsPlaying {
			state = "playing"
		}
		fmt.Printf("Session:  %s at %s (%s)\n", saved.Title, formatPosition(saved.CurrentTime), state)
	} else {
		fmt.Println("Session:  (none)")
	}

	ids := progress.Keys()
	fmt.Printf("Progress: %d episode(s) with a saved position\n", len(ids))
	fmt.Printf("Queued:   %d episode(s)\n", len(queueStore.GetQueue()))
	return nil
}

// runPlay starts an interactive playback run: it restores or starts an
// episode, follows external queue edits, and plays until the queue is
// exhausted or the process is interrupted.
func runPlay(
	cfg *config.Config,
	store *storage.Store,
	hub *notification.Hub,
	queueStore *queue.Store,
	sessions *session.Store,
	progress *session.ProgressStore,
	sink analytics.Sink,
) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	device := audiodev.New(audiodev.Config{
		TickInterval:    cfg.TickInterval(),
		DefaultDuration: cfg.Playback.DefaultDurationSec,
	})
	defer device.Close()

	notifier := playback.StreamNotifier(playback.NopNotifier{})
	if cfg.StreamPing.Enabled {
		client, err := streamping.New(streamping.Config{
			Endpoint: cfg.StreamPing.Endpoint,
			Cooldown: cfg.StreamPingCooldown(),
		})
		if err != nil {
			return err
		}
		notifier = client
	}

	controller, err := playback.NewController(playback.Config{
		Device:        device,
		Queue:         queueStore,
		Sessions:      sessions,
		Progress:      progress,
		Surface:       &consoleSurface{},
		Analytics:     sink,
		Notifier:      notifier,
		FrameInterval: cfg.FrameInterval(),
	})
	if err != nil {
		return err
	}
	defer controller.Close()

	// Follow queue edits made by other playdeck processes.
	watcher, err := store.Watch(ctx)
	if err != nil {
		return err
	}
	syncer := storesync.New(storesync.Config{
		Source: watcher,
		Queue:  queueStore,
	})
	go syncer.Run(ctx)

	hub.Subscribe(func(s notification.Snapshot) {
		zlog.Debug().Int("queued", len(s.Queue)).Msg("queue changed")
	})

	started, err := startPlayback(controller, queueStore)
	if err != nil {
		return err
	}
	if !started {
		fmt.Println("Nothing to play. Add episodes with `playdeck add`.")
		return nil
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sig:
			fmt.Println("\nStopping.")
			return nil
		case ev, ok := <-controller.Events():
			if !ok {
				return nil
			}
			switch ev.Type {
			case playback.EventQueueEmpty:
				fmt.Println("Queue finished.")
				return nil
			case playback.EventPlaybackFailed:
				zlog.Warn().Err(ev.Err).Msg("playback failed; waiting for a retry or new episode")
			case playback.EventEpisodeStarted:
				zlog.Info().Str("episode", ev.Episode.Label()).Msg("episode started")
			}
		}
	}
}

// startPlayback picks what to play: the episode named on the command
// line, the saved session, the persisted current episode, or the head
// of the queue.
func startPlayback(controller *playback.Controller, queueStore *queue.Store) (bool, error) {
	if *playID != "" || *playMP3 != "" {
		ep := &episode.Episode{
			ID:     *playID,
			Title:  *playTitle,
			Date:   *playDate,
			MP3URL: *playMP3,
			URL:    *playPage,
		}
		err := controller.Start(ep, playback.StartOptions{
			OpenSurface:    true,
			ResumeProgress: !*playNoResume,
		})
		return err == nil, err
	}

	if !*playNoResume && controller.RestoreSession() {
		return true, nil
	}

	if current := queueStore.GetCurrent(); current != nil {
		err := controller.Start(current, playback.StartOptions{ResumeProgress: !*playNoResume})
		return err == nil, err
	}
	if next := queueStore.Next(); next != nil {
		err := controller.Start(next, playback.StartOptions{ResumeProgress: !*playNoResume})
		return err == nil, err
	}

	return false, nil
}
