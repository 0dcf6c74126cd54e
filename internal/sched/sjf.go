package sched

// SJF (Shortest-Job-First) es un min-heap binario acotado sobre un arreglo,
// ordenado por (EstCost asc, ArrivalMS asc). O(log n) por operación.
// Cuando muchos jobs comparten costo 0 el desempate por llegada lo degrada
// a FIFO entre iguales, que es el comportamiento sano.
type SJF struct {
	arr   []Job
	count int
}

// NewSJF crea una política SJF con la capacidad dada (mínimo 1).
func NewSJF(capacity int) *SJF {
	if capacity < 1 {
		capacity = 1
	}
	return &SJF{arr: make([]Job, capacity)}
}

func (s *SJF) Push(j Job) error {
	if s.count == len(s.arr) {
		return ErrFull
	}
	s.arr[s.count] = j
	s.siftUp(s.count)
	s.count++
	return nil
}

func (s *SJF) Pop() (Job, bool) {
	if s.count == 0 {
		return Job{}, false
	}
	j := s.arr[0]
	s.count--
	s.arr[0] = s.arr[s.count]
	s.arr[s.count] = Job{}
	if s.count > 0 {
		s.siftDown(0)
	}
	return j, true
}

func (s *SJF) Len() int { return s.count }
func (s *SJF) Cap() int { return len(s.arr) }

func (s *SJF) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !less(s.arr[i], s.arr[parent]) {
			return
		}
		s.arr[i], s.arr[parent] = s.arr[parent], s.arr[i]
		i = parent
	}
}

func (s *SJF) siftDown(i int) {
	for {
		l := i*2 + 1
		r := l + 1
		smallest := i
		if l < s.count && less(s.arr[l], s.arr[smallest]) {
			smallest = l
		}
		if r < s.count && less(s.arr[r], s.arr[smallest]) {
			smallest = r
		}
		if smallest == i {
			return
		}
		s.arr[i], s.arr[smallest] = s.arr[smallest], s.arr[i]
		i = smallest
	}
}
