package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"mucbot/internal/transport"
)

const defaultLogFile = "./mucbot.log"

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Room    RoomConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// RoomConfig mirrors records at or above MinLevel into a joined MUC room.
type RoomConfig struct {
	Enabled    bool
	Room       string
	MinLevel   string
	RatePerSec int
}

// Service owns the log outputs and rebuilds them on Apply. Loggers handed
// out by it pick up the new outputs without being recreated.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *os.File
	room *roomSink
}

// New applies cfg and returns the service with its root Logger.
func New(cfg Config) (*Service, Logger) {
	s := &Service{room: newRoomSink()}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// SetSender attaches the transport behind the room sink. Logging starts
// before the transport exists; nil detaches it.
func (s *Service) SetSender(sender transport.Sender) { s.room.setSender(sender) }

// Apply rebuilds outputs from cfg. A log file that cannot be opened is
// reported on stderr and skipped.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var out []io.Writer
	if cfg.Console {
		out = append(out, consoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %q: %v\n", path, err)
		} else {
			s.file = f
			out = append(out, zerolog.SyncWriter(f))
		}
	}
	s.room.configure(cfg.Room)
	if cfg.Room.Enabled {
		out = append(out, s.room)
		if strings.TrimSpace(cfg.Room.Room) == "" {
			fmt.Fprintln(os.Stderr, "logx: logging.room.enabled without logging.room.room")
		}
	}
	if len(out) == 0 {
		out = append(out, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(out...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// Close stops the room sink and closes the log file.
func (s *Service) Close() error {
	s.room.close()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
