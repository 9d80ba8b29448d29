package relay

import (
	"strconv"
	"sync"
	"time"

	"carechat/internal/models"
)

// Stamper assigns authoritative ids and timestamps to relayed messages.
// Ids are the receipt time in milliseconds, bumped when needed so they stay
// strictly increasing within the process.
type Stamper struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewStamper() *Stamper {
	return &Stamper{now: time.Now}
}

func (s *Stamper) Stamp(p *models.MessagePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	id := now.UnixMilli()
	if id <= s.last {
		id = s.last + 1
	}
	s.last = id

	p.ID = strconv.FormatInt(id, 10)
	p.Timestamp = now.UTC().Format(models.TimestampLayout)
}
