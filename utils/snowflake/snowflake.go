package snowflake

import (
	"errors"
	"strconv"
	"sync"
	"time"
)

const (
	// DiscordEpoch is the first millisecond of 2015, the epoch of platform ids.
	DiscordEpoch int64 = 1420070400000

	workerBits    uint8 = 5
	processBits   uint8 = 5
	incrementBits uint8 = 12

	timestampShift = workerBits + processBits + incrementBits
	workerShift    = processBits + incrementBits
	processShift   = incrementBits

	workerMask    int64 = -1 ^ (-1 << workerBits)
	processMask   int64 = -1 ^ (-1 << processBits)
	incrementMask int64 = -1 ^ (-1 << incrementBits)
)

var (
	ErrInvalidID           = errors.New("invalid snowflake id")
	ErrInvalidWorkerID     = errors.New("worker ID exceeds maximum value")
	ErrClockMovedBackwards = errors.New("clock moved backwards")
)

// Time returns the creation time embedded in a platform id.
//
// Parameters:
//   - id: Decimal snowflake string such as a message or channel id
//
// Returns:
//   - time.Time: Creation time in UTC
//   - error: ErrInvalidID when id is not a positive integer
func Time(id string) (time.Time, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, ErrInvalidID
	}
	return time.UnixMilli((n >> timestampShift) + DiscordEpoch).UTC(), nil
}

// FromTime returns the smallest id that could have been created at t.
// Useful as a lower bound when paging history.
func FromTime(t time.Time) string {
	ms := t.UnixMilli() - DiscordEpoch
	if ms < 0 {
		ms = 0
	}
	return strconv.FormatInt(ms<<timestampShift, 10)
}

// Generator mints ids in the platform layout for events that arrive without
// one, e.g. hand-written relay events.
type Generator struct {
	mu sync.Mutex

	workerID  int64
	processID int64

	increment     int64
	lastTimestamp int64
	now           func() time.Time
}

// NewGenerator creates a generator for the given worker and process ids (0..31).
func NewGenerator(workerID, processID int64) (*Generator, error) {
	if workerID < 0 || workerID > workerMask || processID < 0 || processID > processMask {
		return nil, ErrInvalidWorkerID
	}
	return &Generator{workerID: workerID, processID: processID, now: time.Now}, nil
}

// NextID generates the next unique id.
func (g *Generator) NextID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	timestamp := g.now().UnixMilli()
	if timestamp < g.lastTimestamp {
		return "", ErrClockMovedBackwards
	}

	if timestamp == g.lastTimestamp {
		g.increment = (g.increment + 1) & incrementMask
		// increment overflow, wait for the next millisecond
		if g.increment == 0 {
			for timestamp <= g.lastTimestamp {
				timestamp = g.now().UnixMilli()
			}
		}
	} else {
		g.increment = 0
	}
	g.lastTimestamp = timestamp

	id := ((timestamp - DiscordEpoch) << timestampShift) |
		(g.workerID << workerShift) |
		(g.processID << processShift) |
		g.increment
	return strconv.FormatInt(id, 10), nil
}

// Parse splits an id into its components.
func Parse(id string) (timestamp time.Time, workerID, processID, increment int64, err error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, 0, 0, 0, ErrInvalidID
	}
	timestamp = time.UnixMilli((n >> timestampShift) + DiscordEpoch).UTC()
	workerID = (n >> workerShift) & workerMask
	processID = (n >> processShift) & processMask
	increment = n & incrementMask
	return timestamp, workerID, processID, increment, nil
}
