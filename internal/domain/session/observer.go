package session

// Subscribe registers fn for every state change and returns a function that
// removes it. Changes are delivered synchronously, in transition order, and
// outside the manager lock. fn may read the manager but must not call its
// mutating methods synchronously; spawn a goroutine for that.
func (m *Manager) Subscribe(fn func(Change)) (unsubscribe func()) {
	m.obsMu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers = append(m.observers, observer{id: id, fn: fn})
	m.obsMu.Unlock()

	return func() {
		m.obsMu.Lock()
		defer m.obsMu.Unlock()
		for i, o := range m.observers {
			if o.id == id {
				m.observers = append(m.observers[:i:i], m.observers[i+1:]...)
				return
			}
		}
	}
}

type observer struct {
	id uint64
	fn func(Change)
}

// unlockAndNotify releases m.mu and delivers ch, if any.
//
// Each change takes a sequence number while m.mu is held and is delivered
// only after every earlier change was, so observers see transitions in
// order. Waiting for the turn happens after m.mu is released; an observer
// reading the manager never blocks a concurrent transition.
func (m *Manager) unlockAndNotify(ch *Change) {
	if ch == nil {
		m.mu.Unlock()
		return
	}
	seq := m.nextSeq
	m.nextSeq++
	m.mu.Unlock()

	m.notifyMu.Lock()
	for m.delivered != seq {
		m.notifyCond.Wait()
	}
	m.notifyMu.Unlock()

	defer func() {
		m.notifyMu.Lock()
		m.delivered++
		m.notifyCond.Broadcast()
		m.notifyMu.Unlock()
	}()

	m.obsMu.Lock()
	obs := make([]observer, len(m.observers))
	copy(obs, m.observers)
	m.obsMu.Unlock()

	for _, o := range obs {
		o.fn(*ch)
	}
}
