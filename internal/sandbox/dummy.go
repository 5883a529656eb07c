package sandbox

import (
	"context"
	"sync"

	"github.com/ternarybob/purgo/internal/interfaces"
	"github.com/ternarybob/purgo/internal/models"
)

// Dummy executes each job by returning canned data, optionally simulating
// a failing container. Tests use Halt and Resume to hold jobs inside the
// sandbox and observe the dispatcher's concurrency behavior.
type Dummy struct {
	simulateErrors bool

	mu   sync.Mutex
	gate chan struct{}
}

// NewDummy creates a dummy sandbox. With simulateErrors set, every job
// fails the way a broken container run would.
func NewDummy(simulateErrors bool) *Dummy {
	return &Dummy{simulateErrors: simulateErrors}
}

// Halt makes subsequent Process calls block until Resume.
func (s *Dummy) Halt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate == nil {
		s.gate = make(chan struct{})
	}
}

// Resume releases all calls blocked by Halt.
func (s *Dummy) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

func (s *Dummy) Process(ctx context.Context, source []byte, params models.JobParams) interfaces.SandboxResult {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}

	res := interfaces.SandboxResult{
		Success: !s.simulateErrors,
		Log:     []string{"Executing job in dummy sandbox"},
		MetadataSrc: models.RawMetadata{
			Primary: map[string]models.FieldValue{
				"PDF:Author":   models.StringValue("Alice"),
				"PDF:Producer": models.StringValue("example.com"),
			},
			Embeds: map[string]map[string]models.FieldValue{
				"doc0": {"XMP:Author": models.StringValue("Alice")},
			},
		},
		MetadataResult: models.RawMetadata{
			Primary: map[string]models.FieldValue{
				"PDF:Producer": models.StringValue("example.com"),
			},
			Embeds: map[string]map[string]models.FieldValue{},
		},
	}
	if !s.simulateErrors {
		res.Result = []byte("%PDF-1.7")
	}
	return res
}
