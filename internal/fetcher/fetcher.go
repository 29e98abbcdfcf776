// Package fetcher runs the external filing downloader.
//
// Retrieval from EDGAR lives outside this module; the configured command is
// invoked once per ticker as
//
//	<path> <args...> --ticker T --after YYYY-MM-DD --before YYYY-MM-DD --dest DIR
//
// and is expected to leave Form 4 XML under DIR.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bighogz/form4-feed/internal/logging"
	"github.com/bighogz/form4-feed/internal/models"
)

var ErrNotConfigured = errors.New("fetcher: no command configured")

const DefaultTimeout = 10 * time.Minute

type Command struct {
	Path string
	Args []string
	// Timeout bounds each per-ticker invocation.
	Timeout time.Duration
	// Dir is the working directory; empty means the current one.
	Dir    string
	Logger *zap.Logger
}

type Result struct {
	Tickers int
	Failed  []string
}

// Run fetches filings for each ticker in [after, before] into dest. A failing
// ticker is logged and recorded; only cancellation stops the loop early.
func (c Command) Run(ctx context.Context, tickers []string, after, before time.Time, dest string) (Result, error) {
	var res Result
	if strings.TrimSpace(c.Path) == "" {
		return res, ErrNotConfigured
	}
	log := logging.OrNop(c.Logger)
	for _, t := range tickers {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Tickers++
		if err := c.fetch(ctx, t, after, before, dest); err != nil {
			res.Failed = append(res.Failed, t)
			log.Warn("fetch failed", zap.String("ticker", t), zap.Error(err))
			continue
		}
		log.Debug("fetched", zap.String("ticker", t))
	}
	return res, nil
}

func (c Command) fetch(ctx context.Context, ticker string, after, before time.Time, dest string) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string(nil), c.Args...),
		"--ticker", ticker,
		"--after", after.Format(models.DateLayout),
		"--before", before.Format(models.DateLayout),
		"--dest", dest,
	)
	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.Dir = c.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 200 {
			msg = msg[:200]
		}
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", c.Path, err, msg)
		}
		return fmt.Errorf("%s: %w", c.Path, err)
	}
	return nil
}
