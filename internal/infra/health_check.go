package infra

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	checkExecInterval = 5 * time.Second
)

// MonitorExecutable signals once when the running binary is replaced on disk.
func MonitorExecutable(ctx context.Context) <-chan struct{} {
	exeFilename, err := os.Executable()
	if err != nil {
		log.WithError(err).Warn("cant resolve executable path for monitor")
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return MonitorFile(ctx, exeFilename, checkExecInterval)
}

// MonitorFile signals once when the modification time of filename changes.
// The channel is closed when monitoring ends.
func MonitorFile(ctx context.Context, filename string, interval time.Duration) <-chan struct{} {
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)

		stat, err := os.Stat(filename)
		if err != nil {
			log.WithError(err).WithField("file", filename).Warn("cant stat file for monitor")
			return
		}
		originalTime := stat.ModTime()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stat, err := os.Stat(filename)
				if err != nil {
					log.WithError(err).WithField("file", filename).Warn("cant stat file for monitor tick")
					continue
				}
				if !originalTime.Equal(stat.ModTime()) {
					ch <- struct{}{}
					return
				}
			}
		}
	}()
	return ch
}
