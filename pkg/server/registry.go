package server

import (
	"sync"
	"time"

	"github.com/mfolta/ipk24chat/pkg/protocol"
)

// ChannelRegistry maps channel identifiers to their member sessions. All
// membership reads and writes go through the registry lock so concurrent
// joins and leaves cannot lose updates. Channel entries are created lazily
// and never removed, even when empty; channel garbage collection is a
// documented non-goal.
type ChannelRegistry struct {
	mu       sync.RWMutex
	channels map[string][]*Session
}

// NewChannelRegistry creates an empty registry.
func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{
		channels: make(map[string][]*Session),
	}
}

// AddUser moves sess into channelID: an idempotent remove-then-add under one
// lock acquisition, so a session is never observably in two channels or in
// none mid-move. Returns the channel the session left, or "".
func (r *ChannelRegistry) AddUser(sess *Session, channelID string) (previous string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous = r.removeLocked(sess)
	r.channels[channelID] = append(r.channels[channelID], sess)
	return previous
}

// Remove takes sess out of whatever channel it is in. Returns the channel it
// left and whether it was a member anywhere.
func (r *ChannelRegistry) Remove(sess *Session) (channelID string, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	channelID = r.removeLocked(sess)
	return channelID, channelID != ""
}

func (r *ChannelRegistry) removeLocked(sess *Session) string {
	for id, members := range r.channels {
		for i, member := range members {
			if member == sess {
				// Empty entries stay in the map.
				r.channels[id] = append(members[:i], members[i+1:]...)
				return id
			}
		}
	}
	return ""
}

// Members returns a snapshot of the channel's member list.
func (r *ChannelRegistry) Members(channelID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.channels[channelID]
	snapshot := make([]*Session, len(members))
	copy(snapshot, members)
	return snapshot
}

// UsernameActive reports whether any registered session authenticated as
// username. Used to reject a second login with the same identity.
func (r *ChannelRegistry) UsernameActive(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, members := range r.channels {
		for _, sess := range members {
			if sess.Username() == username {
				return true
			}
		}
	}
	return false
}

// Broadcast delivers msg to every member of channelID except exclude,
// concurrently, and waits for all deliveries to finish. A failed delivery
// never aborts the others and never surfaces to the broadcaster; sessions
// that could not be reached are returned so the server can retire them.
// Each member receives the message at most once per call; no relative
// delivery order across members is guaranteed.
func (r *ChannelRegistry) Broadcast(msg protocol.Message, exclude *Session, channelID string) (failed []*Session) {
	members := r.Members(channelID)

	var (
		wg     sync.WaitGroup
		failMu sync.Mutex
	)
	start := time.Now()

	for _, member := range members {
		if member == exclude || !member.Authenticated() {
			continue
		}

		wg.Add(1)
		go func(member *Session) {
			defer wg.Done()

			// Each member gets its own copy: the datagram transport
			// stamps a per-session id into the message it sends.
			if err := member.Send(protocol.Clone(msg)); err != nil {
				debugLog.Printf("Session %d: broadcast delivery failed (%s): %v",
					member.ID, protocol.TypeName(msg.Type()), err)
				failMu.Lock()
				failed = append(failed, member)
				failMu.Unlock()
			}
		}(member)
	}

	wg.Wait()
	debugLog.Printf("broadcast %s to #%s took %v", protocol.TypeName(msg.Type()), channelID, time.Since(start))
	return failed
}
