package envz

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

var (
	Mode            string
	ListenAddr      string
	CorsOrigins     []string
	DBPath          string
	ZpoolBin        string
	ZfsBin          string
	CmdSlots        int
	DestroyAttempts int
	DestroyBackoff  int // seconds, multiplied by the attempt index
	DestroySettle   int // seconds to wait after killing streams before each attempt
	HistoryLimit    int
	IostatInterval  int
	SessionTTL      int // hours
)

func Setup() error {
	godotenv.Load(".env")

	Mode = os.Getenv("MODE")
	ListenAddr = getString("LISTEN_ADDR", ":8080")
	CorsOrigins = splitAndTrimCSV(getString("CORS_ORIGINS", "http://localhost:5173"))
	DBPath = getString("DB_PATH", "data.db")
	ZpoolBin = getString("ZPOOL_BIN", "zpool")
	ZfsBin = getString("ZFS_BIN", "zfs")
	CmdSlots = getInt("CMD_SLOTS", 4)
	DestroyAttempts = getInt("DESTROY_ATTEMPTS", 3)
	DestroyBackoff = getInt("DESTROY_BACKOFF_SECONDS", 3)
	DestroySettle = getInt("DESTROY_SETTLE_SECONDS", 1)
	HistoryLimit = getInt("HISTORY_LIMIT", 300)
	IostatInterval = getInt("IOSTAT_INTERVAL", 1)
	SessionTTL = getInt("SESSION_TTL_HOURS", 24)
	return nil
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func splitAndTrimCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
