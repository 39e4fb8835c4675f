// Command normalize runs the story normalizer over a raw payload and prints
// the resulting collection as JSON. It reads the file named by -in, or stdin.
// The exit status is 2 when the payload is rejected.
//
// Usage:
//
//	go run ./cmd/normalize -in payload.json
//	psql -Atc "select win_stories_json from opportunities where id='006A'" | go run ./cmd/normalize
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/winstory"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/winstory/normalizer"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/logger"
)

func main() {
	in := flag.String("in", "", "payload file (default stdin)")
	limit := flag.Int("limit", 0, "print at most this many stories (0 = all)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}
	level := os.Getenv("WS_LOGGING_LEVEL")
	if level == "" {
		level = "warn"
	}
	slog.SetDefault(logger.New(os.Stderr, level, "text"))

	var r io.Reader = os.Stdin
	if *in != "" {
		f, err := os.Open(*in)
		if err != nil {
			slog.Error("opening payload", "path", *in, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		slog.Error("reading payload", "error", err)
		os.Exit(1)
	}

	stories, err := normalizer.Normalize(winstory.RawPayload{Value: string(data), Valid: len(data) > 0})
	if err != nil {
		var ierr *winstory.IngestError
		if errors.As(err, &ierr) {
			slog.Error("payload rejected", "kind", ierr.Kind.String(), "error", ierr.Message)
		} else {
			slog.Error("payload rejected", "error", err)
		}
		os.Exit(2)
	}
	slog.Info("payload normalized", "stories", len(stories))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(stories.Limit(*limit)); err != nil {
		slog.Error("writing stories", "error", err)
		os.Exit(1)
	}
}
