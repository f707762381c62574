package msg

// StreamSlot holds at most one DecodedStream for later re-emission. The
// slot owns a reference to the stream it holds.
type StreamSlot struct {
	m *DecodedStream
}

// Set replaces the held stream with m, taking a reference to m.
func (s *StreamSlot) Set(m *DecodedStream) {
	m.AddRef()
	s.Clear()
	s.m = m
}

// Put replaces the held stream with m, taking over the caller's reference.
func (s *StreamSlot) Put(m *DecodedStream) {
	s.Clear()
	s.m = m
}

// Info returns the held stream info and whether the slot is filled.
func (s *StreamSlot) Info() (StreamInfo, bool) {
	if s.m == nil {
		return StreamInfo{}, false
	}
	return s.m.Info, true
}

// Take empties the slot and hands the held reference to the caller.
func (s *StreamSlot) Take() *DecodedStream {
	m := s.m
	s.m = nil
	return m
}

// Clear releases the held stream.
func (s *StreamSlot) Clear() {
	if s.m != nil {
		s.m.Release()
		s.m = nil
	}
}
