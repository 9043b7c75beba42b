package transfer

import "sync"

type recordingSink struct {
	mu        sync.Mutex
	total     int64
	added     []int64
	completed bool
}

func (s *recordingSink) SetTotal(total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total = total
}

func (s *recordingSink) Add(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.added = append(s.added, n)
}

func (s *recordingSink) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.completed = true
}

func (s *recordingSink) sum() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, a := range s.added {
		n += a
	}

	return n
}
