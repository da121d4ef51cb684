//go:build !windows

package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/kingphisher/kingphisher/pkg/config"
)

var (
	logsFollow bool
	logsLines  int
	logsSince  string
)

var logsCmd = &cobra.Command{
	Use:   "logs config_file",
	Short: "Tail server logs",
	Long: `Display and optionally follow the King Phisher server log file.

The log file is the logging.file option of the configuration. A server that
only logs to the console has no file to show.

Examples:
  # Show the last 100 lines
  kingphisher-server logs /etc/king-phisher/server_config.yml

  # Follow, starting with the last 20 lines
  kingphisher-server logs -f -n 20 /etc/king-phisher/server_config.yml

  # Lines since a point in time
  kingphisher-server logs --since 2026-01-15T10:00:00Z /etc/king-phisher/server_config.yml`,
	Args: cobra.ExactArgs(1),
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 100, "Number of lines to show")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since timestamp (RFC3339 format)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logFile := cfg.GetString(config.OptionLoggingFile)
	if logFile == "" {
		return fmt.Errorf("the server is not configured to log to a file\nSet %s in the configuration to use this command", config.OptionLoggingFile)
	}
	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		return fmt.Errorf("log file not found: %s\nThe server may not have started yet", logFile)
	}

	var since time.Time
	if logsSince != "" {
		since, err = time.Parse(time.RFC3339, logsSince)
		if err != nil {
			return fmt.Errorf("invalid --since format (use RFC3339): %w", err)
		}
	}

	out := cmd.OutOrStdout()
	if !logsFollow {
		return showLogs(out, logFile, logsLines, since)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Following %s (Ctrl+C to stop)...\n", logFile)
	return followLogs(ctx, out, logFile, logsLines, since)
}

// showLogs writes the last lines of logFile that are not older than since.
func showLogs(w io.Writer, logFile string, lines int, since time.Time) error {
	file, err := os.Open(logFile)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var tail []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !since.IsZero() {
			if t := extractTimestamp(line); !t.IsZero() && t.Before(since) {
				continue
			}
		}
		tail = append(tail, line)
		if lines >= 0 && len(tail) > lines {
			tail = tail[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading log file: %w", err)
	}

	for _, line := range tail {
		_, _ = fmt.Fprintln(w, line)
	}
	return nil
}

// followLogs shows the tail of logFile, then writes lines as they are
// appended until ctx is done.
func followLogs(ctx context.Context, w io.Writer, logFile string, initialLines int, since time.Time) error {
	if err := showLogs(w, logFile, initialLines, since); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(logFile); err != nil {
		return fmt.Errorf("failed to watch log file: %w", err)
	}

	file, err := os.Open(logFile)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end of log file: %w", err)
	}
	follower := &lineFollower{r: bufio.NewReader(file)}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) {
				follower.copyTo(w)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}

// lineFollower copies complete lines from a growing file. A partial last
// line is held back until it is terminated.
type lineFollower struct {
	r       *bufio.Reader
	partial string
}

func (f *lineFollower) copyTo(w io.Writer) {
	for {
		chunk, err := f.r.ReadString('\n')
		f.partial += chunk
		if err != nil {
			return
		}
		_, _ = io.WriteString(w, f.partial)
		f.partial = ""
	}
}

// textTimeLayout is the timestamp of the text log format:
// "[2006-01-02 15:04:05] [INFO] message".
const textTimeLayout = "2006-01-02 15:04:05"

// extractTimestamp returns the record time of a text or JSON log line, or
// the zero time if the line has none.
func extractTimestamp(line string) time.Time {
	if strings.HasPrefix(line, "[") && len(line) > len(textTimeLayout)+1 {
		if t, err := time.ParseInLocation(textTimeLayout, line[1:len(textTimeLayout)+1], time.Local); err == nil {
			return t
		}
	}

	if strings.HasPrefix(line, "{") {
		var record struct {
			Time time.Time `json:"time"`
		}
		if err := json.Unmarshal([]byte(line), &record); err == nil {
			return record.Time
		}
	}

	return time.Time{}
}
