package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/raidscope/raidscope/internal/display"
)

func (s *Server) handleSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Engine.Snapshot())
}

// handlePlayers returns the player rows; ?alive=true drops the dead.
func (s *Server) handlePlayers(c *gin.Context) {
	snap := s.deps.Engine.Snapshot()
	rows := snap.Players
	if c.Query("alive") == "true" {
		rows = make([]display.PlayerRow, 0, len(snap.Players))
		for _, p := range snap.Players {
			if p.Alive {
				rows = append(rows, p)
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"me":      snap.Me,
		"players": rows,
		"total":   len(rows),
	})
}

// handleLoot returns the visible crates filtered by ?min_price and
// ?wanted=true.
func (s *Server) handleLoot(c *gin.Context) {
	var minPrice int64
	if v := c.Query("min_price"); v != "" {
		p, err := strconv.ParseInt(v, 10, 64)
		if err != nil || p < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid min_price"})
			return
		}
		minPrice = p
	}
	wantedOnly := c.Query("wanted") == "true"

	snap := s.deps.Engine.Snapshot()
	rows := make([]display.LootRow, 0, len(snap.Loot))
	for _, l := range snap.Loot {
		if l.Price < minPrice || (wantedOnly && !l.Wanted) {
			continue
		}
		rows = append(rows, l)
	}
	c.JSON(http.StatusOK, gin.H{
		"loot":   rows,
		"total":  len(rows),
		"hidden": snap.Hidden,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Engine.Stats())
}

// handleLogEntries returns recent log entries.
func (s *Server) handleLogEntries(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", "100"))
	if err != nil || count < 1 {
		count = 100
	}
	if count > 1000 {
		count = 1000
	}

	entries, err := readRecentLogEntries(s.cfg.Logging.Directory, count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

type logEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// readRecentLogEntries parses the last count JSON lines of the newest log
// file in logDir.
func readRecentLogEntries(logDir string, count int) ([]logEntry, error) {
	dirEntries, err := os.ReadDir(logDir)
	if err != nil {
		return nil, err
	}

	var latestFile string
	for i := len(dirEntries) - 1; i >= 0; i-- {
		if !dirEntries[i].IsDir() && filepath.Ext(dirEntries[i].Name()) == ".log" {
			latestFile = filepath.Join(logDir, dirEntries[i].Name())
			break
		}
	}
	if latestFile == "" {
		return []logEntry{}, nil
	}

	data, err := os.ReadFile(latestFile)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	start := len(lines) - count
	if start < 0 {
		start = 0
	}

	knownKeys := map[string]bool{
		"level": true, "time": true, "message": true,
		"caller": true, "app": true, "component": true,
	}

	result := make([]logEntry, 0, len(lines)-start)
	for _, line := range lines[start:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			result = append(result, logEntry{Message: line})
			continue
		}

		entry := logEntry{
			Level:     stringFromMap(raw, "level"),
			Component: stringFromMap(raw, "component"),
			Message:   stringFromMap(raw, "message"),
			Timestamp: stringFromMap(raw, "time"),
		}
		extra := make(map[string]interface{})
		for k, v := range raw {
			if !knownKeys[k] {
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			entry.Fields = extra
		}
		result = append(result, entry)
	}
	return result, nil
}

func stringFromMap(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
