package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the process-wide line logger. All service output funnels
// through it so stdout stays one JSON object per line.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// Emit writes one structured JSON line. Two shapes flow through here: the
// request-completion lines from the HTTP layer and the mirror lines written
// alongside every persisted audit entry.
func Emit(fields map[string]any) {
	data, err := json.Marshal(fields)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
