package pglog

import (
	"io"

	"github.com/nxadm/tail"

	"github.com/vadv/rpglot/internal/log"
)

// Tailer follows one log file. The first open seeks to the end (backlog is
// not interesting and can be huge); a switch to a rotated file starts at
// offset 0. Same-path rotation (inode change) is handled by tail's re-open.
type Tailer struct {
	path  string
	tail  *tail.Tail
	// lineLimit caps how many lines one Drain call consumes, bounding tick
	// latency when the log is written faster than it is read.
	lineLimit int
}

// NewTailer starts tailing path from the end.
func NewTailer(path string) (*Tailer, error) {
	t, err := tail.TailFile(path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Location: &tail.SeekInfo{Whence: io.SeekEnd},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		return nil, err
	}
	return &Tailer{path: path, tail: t, lineLimit: 10000}, nil
}

// Path returns the file currently tailed.
func (t *Tailer) Path() string {
	return t.path
}

// SwitchFile stops the current tail and follows newPath from the beginning.
func (t *Tailer) SwitchFile(newPath string) error {
	t.stop()

	nt, err := tail.TailFile(newPath, tail.Config{
		Follow: true,
		ReOpen: true,
		Logger: tail.DiscardingLogger,
	})
	if err != nil {
		return err
	}
	t.path = newPath
	t.tail = nt
	return nil
}

// Drain returns all lines appended since the previous call without
// blocking, up to the per-tick line limit.
func (t *Tailer) Drain() []string {
	if t.tail == nil {
		return nil
	}

	var lines []string
	for len(lines) < t.lineLimit {
		select {
		case line, ok := <-t.tail.Lines:
			if !ok {
				return lines
			}
			if line.Err != nil {
				log.Debugf("tail %s: %s", t.path, line.Err)
				continue
			}
			lines = append(lines, line.Text)
		default:
			return lines
		}
	}
	return lines
}

// Close stops tailing.
func (t *Tailer) Close() {
	t.stop()
}

func (t *Tailer) stop() {
	if t.tail == nil {
		return
	}
	t.tail.Cleanup()
	if err := t.tail.Stop(); err != nil {
		log.Debugf("stop tail %s: %s", t.path, err)
	}
	t.tail = nil
}
