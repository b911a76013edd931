package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

var startTime = time.Now()

const (
	colorReset    = "\033[0m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
	colorPurple   = "\033[35m"
)

// statusRow is the terminal row the live status line is drawn on. Logs
// scroll below it.
const statusRow = 10

// termMu serializes all terminal output so a log write never lands inside
// the status line's cursor save/restore sequence.
var termMu sync.Mutex

type termWriter struct{}

func (termWriter) Write(p []byte) (int, error) {
	termMu.Lock()
	defer termMu.Unlock()
	return os.Stderr.Write(p)
}

// NewTermWriter returns an io.Writer for log.SetOutput that shares the
// status line's lock.
func NewTermWriter() *termWriter {
	return &termWriter{}
}

const banner = `
   ______ ___    _____ ______ ____   ______ _____ __ __
  / ____//   |  / ___// ____// __ \ / ____// ___// //_/
 / /    / /| |  \__ \/ __/  / / / // __/   \__ \/ ,<
/ /___ / ___ | ___/ / /___ / /_/ // /___  ___/ / /| |
\____//_/  |_|/____/_____//_____//_____/ /____/_/ |_|

        >> POULTRY CASE DESK <<
`

// PrintBanner clears the screen and draws the centered logo.
func PrintBanner() {
	fmt.Print("\033[2J\033[H")
	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		width = w
	}
	for _, l := range strings.Split(banner, "\n") {
		pad := max((width-len(l))/2, 0)
		fmt.Printf("%s%s%s%s\n", strings.Repeat(" ", pad), colorNeonCyan, l, colorReset)
	}
}

// InitializeTerminal keeps rows 1 to statusRow+1 fixed and scrolls logs
// beneath them.
func InitializeTerminal() {
	fmt.Printf("\033[%d;r\033[%d;1H", statusRow+2, statusRow+2)
}

func CleanupTerminal() {
	fmt.Print("\033[r\033[2J\033[H")
}

// Gauges are the case desk counters shown on the status line.
type Gauges struct {
	Sessions int // users with a pending multi-step action
	Workers  int // live per-user dispatcher workers
}

// Snapshot is everything the status line renders.
type Snapshot struct {
	Role          Role
	Task          string
	InFlight      int
	LastHeartbeat time.Time
	Uptime        time.Duration
	Gauges
}

// TakeSnapshot reads the global status together with g.
func TakeSnapshot(g Gauges) Snapshot {
	role, task, inFlight, hb := GetStatus()
	return Snapshot{
		Role:          role,
		Task:          task,
		InFlight:      inFlight,
		LastHeartbeat: hb,
		Uptime:        time.Since(startTime).Round(time.Second),
		Gauges:        g,
	}
}

// Health grades the time since the last heartbeat.
func Health(sinceHeartbeat time.Duration) string {
	switch {
	case sinceHeartbeat < 40*time.Second:
		return "HEALTHY"
	case sinceHeartbeat < 90*time.Second:
		return "LAGGING"
	default:
		return "OFFLINE"
	}
}

// FormatStatus renders s as one uncolored line.
func FormatStatus(s Snapshot, now time.Time) string {
	task := s.Task
	if task == "" {
		task = "waiting"
	} else if s.InFlight > 1 {
		task = fmt.Sprintf("%d jobs: %s", s.InFlight, task)
	}
	if r := []rune(task); len(r) > 28 {
		task = string(r[:25]) + "..."
	}
	return fmt.Sprintf("[%s] %-7s | %-9s %-28s | sessions %d | workers %d | up %v",
		s.LastHeartbeat.Format("15:04:05"), Health(now.Sub(s.LastHeartbeat)),
		s.Role, task, s.Sessions, s.Workers, s.Uptime)
}

// PrintLiveStatus redraws the status line in place.
func PrintLiveStatus(g Gauges) {
	now := time.Now()
	s := TakeSnapshot(g)
	color := colorNeonCyan
	switch Health(now.Sub(s.LastHeartbeat)) {
	case "LAGGING":
		color = colorPurple
	case "OFFLINE":
		color = colorNeonMag
	}
	line := fmt.Sprintf("\033[s\033[%d;1H\033[K%s%s%s\033[u", statusRow, color, FormatStatus(s, now), colorReset)

	termMu.Lock()
	fmt.Print(line)
	termMu.Unlock()
}
