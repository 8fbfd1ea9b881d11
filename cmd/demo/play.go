// cmd/demo/play.go
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Corphon/SceneWeaver/internal/content"
	"github.com/Corphon/SceneWeaver/internal/models"
	"github.com/Corphon/SceneWeaver/internal/services"
	"github.com/Corphon/SceneWeaver/internal/storage"
	"github.com/Corphon/SceneWeaver/internal/utils"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play the story in the terminal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newFileLogger(cfg.LogDir, cfg.DebugMode)
		if err != nil {
			return err
		}
		defer logger.Sync()

		def, err := content.LoadFile(cfg.ContentFile)
		if err != nil {
			return err
		}
		catalog, err := services.LoadCatalog(def, services.CatalogOptions{
			Strict: cfg.StrictContent(),
			Logger: logger,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		kv, err := storage.Open(ctx, storage.Options{
			Backend:     cfg.StorageBackend,
			DataDir:     cfg.DataDir,
			SQLitePath:  cfg.SQLitePath,
			PostgresDSN: cfg.PostgresDSN,
		})
		if err != nil {
			return err
		}
		defer kv.Close()

		return runPlay(ctx, playOptions{
			in:      cmd.InOrStdin(),
			out:     cmd.OutOrStdout(),
			catalog: catalog,
			kv:      kv,
			session: services.SessionOptions{
				Navigator: services.NavigatorConfig{
					AutoAdvanceDelay: cfg.AutoAdvanceDelay,
					RevealDelay:      cfg.RevealDelay,
				},
				SaveDebounce: cfg.SaveDebounce,
			},
			logger: logger,
		})
	},
}

// playOptions 终端播放参数
type playOptions struct {
	in      io.Reader
	out     io.Writer
	catalog *services.Catalog
	kv      storage.KeyValueStore
	session services.SessionOptions
	logger  *utils.Logger
}

// console serialises output from the input loop and navigator timers
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func (c *console) println(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, text)
}

func (c *console) do(fn func(w io.Writer)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.out)
}

// runPlay drives one single-player session until quit, EOF or ctx is done.
// The session is closed on return so the last autosave is flushed.
func runPlay(ctx context.Context, opts playOptions) error {
	logger := opts.logger
	if logger == nil {
		logger = utils.GetLogger()
	}
	term := &console{out: opts.out}

	session := services.NewGameSession("local", services.DefaultSaveKey, opts.catalog, opts.kv, opts.session, logger, nil)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := session.Close(closeCtx); err != nil {
			logger.Error("Final save failed", map[string]interface{}{"error": err})
		}
	}()

	restored := session.Restore(ctx)
	term.println(T("banner", opts.catalog.Source()))
	term.println(T("help"))
	if restored {
		term.println(T("restored", session.Snapshot().CurrentScene))
	} else {
		term.println(T("new_game"))
	}
	logger.Info("Demo session started", map[string]interface{}{
		"restored": restored,
		"scene":    session.Snapshot().CurrentScene,
	})

	cancel := session.Navigator.OnChange(func(view models.SceneView) {
		term.do(func(w io.Writer) { renderView(w, view) })
	})
	defer cancel()
	session.Start()

	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(opts.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			term.println(T("goodbye"))
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleLine(ctx, session, term, line)
			if err != nil {
				return err
			}
			if quit {
				term.println(T("goodbye"))
				return nil
			}
		}
	}
}

// handleLine applies one input line; it reports whether the player quit
func handleLine(ctx context.Context, session *services.GameSession, term *console, line string) (bool, error) {
	line = strings.TrimSpace(line)
	command, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(command) {
	case "":
		if !session.Advance() {
			term.println(T("nothing"))
		}
	case "quit", "exit":
		return true, nil
	case "help":
		term.println(T("help"))
	case "state":
		snapshot := session.Snapshot()
		term.do(func(w io.Writer) { renderState(w, snapshot) })
	case "save":
		// 存档失败不结束游戏, SaveService 已记录日志
		if _, err := session.Save(ctx); err != nil {
			term.println(T("save_failed", err))
			break
		}
		term.println(T("saved"))
	case "reset":
		if err := session.Reset(ctx); err != nil {
			term.println(T("clear_failed", err))
			break
		}
		term.println(T("reset"))
	case "go":
		if rest == "" {
			term.println(T("unknown_command"))
			break
		}
		session.Navigate(rest)
	case "name":
		setName(session, term, rest)
	default:
		if n, err := strconv.Atoi(line); err == nil {
			if err := session.Choose(n - 1); err != nil {
				if !errors.Is(err, services.ErrChoiceUnavailable) {
					return false, err
				}
				term.println(T("rejected"))
			}
			break
		}
		if session.View().Input == models.InputPlayerName {
			setName(session, term, line)
			break
		}
		term.println(T("unknown_command"))
	}
	return false, nil
}

func setName(session *services.GameSession, term *console, name string) {
	if err := session.SetPlayerName(name); err != nil {
		term.println(err.Error())
		return
	}
	term.println(T("name_set", session.Snapshot().PlayerName))
}
