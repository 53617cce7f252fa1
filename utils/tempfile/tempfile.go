package tempfile

import (
	"errors"
	"os"
	"strconv"
	"sync"
	"time"
)

// Creator maintains the state of a pseudo-random number generator
// used to create temp files.
type Creator struct {
	mu   sync.Mutex
	idum uint32 // Pseudo-random number generator state.
}

// NewCreator returns a new Creator, for creating temp files.
func NewCreator() *Creator {
	return &Creator{idum: uint32(time.Now().UnixNano())}
}

// Fast "quick and dirty" linear congruential (pseudo-random) number
// generator from Numerical Recipes. Excerpt here:
// https://www.unf.edu/~cwinton/html/cop4300/s09/class.notes/LCGinfo.pdf
func (c *Creator) ranqd1() string {
	c.mu.Lock()
	c.idum = c.idum*1664525 + 1013904223
	r := c.idum
	c.mu.Unlock()
	return strconv.Itoa(int(1e9 + r%1e9))[1:]
}

const flags = os.O_RDWR | os.O_CREATE | os.O_EXCL

// FinalMode is the permission of committed cache files.
const FinalMode = 0664

// The permissions of files that are still being written. Staged files may
// hold another user's upload, so only the service may read them.
const wipMode = 0600

var errNoTempfile = errors.New("Failed to create a temp file")

// Create attempts to create a file whose name is of the form
// <base>-<randomstring>. The *os.File is returned along with an error if
// something went wrong. The caller owns the file and must remove it, on
// every exit path, unless it renames it into place.
func (c *Creator) Create(base string) (*os.File, error) {
	for i := 0; i < 10000; i++ {
		name := base + "-" + c.ranqd1()

		f, err := os.OpenFile(name, flags, wipMode)
		if err == nil {
			return f, nil
		}
		if os.IsExist(err) {
			// Tempfile collision. Try again.
			continue
		}

		// Unexpected error.
		return nil, err
	}
	return nil, errNoTempfile
}

// Discard closes and removes a file returned by Create. It is safe to call
// after the file has already been closed, and is intended for use in a
// defer statement.
func Discard(f *os.File) {
	if f == nil {
		return
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
}
