package msg

// Queue is a double ended queue of messages. It isn't safe for
// concurrent use.
type Queue struct {
	msgs    []Msg
	jiffies int
}

// Enqueue appends m.
func (q *Queue) Enqueue(m Msg) {
	q.msgs = append(q.msgs, m)
	q.jiffies += audioJiffies(m)
}

// EnqueueAtHead prepends m.
func (q *Queue) EnqueueAtHead(m Msg) {
	q.msgs = append(q.msgs, nil)
	copy(q.msgs[1:], q.msgs)
	q.msgs[0] = m
	q.jiffies += audioJiffies(m)
}

// Dequeue removes the first message. It returns nil if q is empty.
func (q *Queue) Dequeue() Msg {
	if len(q.msgs) == 0 {
		return nil
	}
	m := q.msgs[0]
	q.msgs[0] = nil
	q.msgs = q.msgs[1:]
	q.jiffies -= audioJiffies(m)
	return m
}

// Peek returns the first message without removing it.
func (q *Queue) Peek() Msg {
	if len(q.msgs) == 0 {
		return nil
	}
	return q.msgs[0]
}

// IsEmpty reports whether q has no messages.
func (q *Queue) IsEmpty() bool {
	return len(q.msgs) == 0
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	return len(q.msgs)
}

// Jiffies returns the duration of queued audio.
func (q *Queue) Jiffies() int {
	return q.jiffies
}

// Clear releases every queued message.
func (q *Queue) Clear() {
	for _, m := range q.msgs {
		m.Release()
	}
	q.msgs = nil
	q.jiffies = 0
}

// Contains reports whether any queued message is of a kind in mask.
func (q *Queue) Contains(mask Kind) bool {
	for _, m := range q.msgs {
		if m.Kind().Has(mask) {
			return true
		}
	}
	return false
}

func audioJiffies(m Msg) int {
	if a, ok := m.(Audio); ok {
		return a.Jiffies()
	}
	return 0
}
