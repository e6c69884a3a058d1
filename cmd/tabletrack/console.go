package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tabletrack/tracker/internal/dispatcher"
	"github.com/tabletrack/tracker/pkg/core"
)

// readConsole turns stdin lines into dispatcher commands. The first word
// is the command name, the rest are arguments.
func readConsole(r io.Reader, d *dispatcher.Dispatcher, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		result, err := d.Dispatch(dispatcher.Command{
			Name:      fields[0],
			Args:      fields[1:],
			Timestamp: time.Now(),
		})
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		if s, ok := result.(string); ok && s != "" {
			fmt.Println(s)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("Console read failed", "error", err)
	}
}

func parsePick(args []string) (core.PixelPoint, error) {
	if len(args) != 2 {
		return core.PixelPoint{}, fmt.Errorf("usage: pick <x> <y>")
	}
	x, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return core.PixelPoint{}, fmt.Errorf("bad x %q: %w", args[0], err)
	}
	y, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return core.PixelPoint{}, fmt.Errorf("bad y %q: %w", args[1], err)
	}
	return core.PixelPoint{X: x, Y: y}, nil
}
