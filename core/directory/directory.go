// Package directory maps rider identities to their live notification
// channels. Entries are ephemeral: the directory is rebuilt entirely from
// live connections and a process restart drops everything, after which riders
// must re-announce themselves.
package directory

import "sync"

// Channel is a live, bidirectional connection endpoint able to deliver a
// named event to one rider device session.
type Channel interface {
	// ID uniquely identifies the underlying session so reconnects with the
	// same session replace rather than duplicate the entry.
	ID() string
	Send(event string, payload any) error
}

// Directory is a thread-safe rider -> channel-set index with a reverse
// channel-id index for O(1) unregistration.
type Directory struct {
	mu      sync.RWMutex
	byRider map[string]map[string]Channel
	rider   map[string]string // channel id -> rider id
}

// New creates an empty Directory.
func New() *Directory {
	return &Directory{
		byRider: make(map[string]map[string]Channel),
		rider:   make(map[string]string),
	}
}

// Register adds a channel for the rider, creating the entry if absent.
// Registering the same channel id twice keeps a single entry.
func (d *Directory) Register(riderID string, ch Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.byRider[riderID]
	if !ok {
		set = make(map[string]Channel)
		d.byRider[riderID] = set
	}
	set[ch.ID()] = ch
	d.rider[ch.ID()] = riderID
}

// Unregister removes the channel from whatever rider holds it and deletes
// the rider's entry when its channel set becomes empty. It returns the rider
// id and whether that rider now has no channels left.
func (d *Directory) Unregister(channelID string) (riderID string, last bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	riderID, ok := d.rider[channelID]
	if !ok {
		return "", false
	}
	delete(d.rider, channelID)
	set := d.byRider[riderID]
	delete(set, channelID)
	if len(set) == 0 {
		delete(d.byRider, riderID)
		return riderID, true
	}
	return riderID, false
}

// ChannelsFor returns the rider's current channels, possibly empty.
func (d *Directory) ChannelsFor(riderID string) []Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	set := d.byRider[riderID]
	res := make([]Channel, 0, len(set))
	for _, ch := range set {
		res = append(res, ch)
	}
	return res
}

// Riders returns the identities currently holding at least one channel.
func (d *Directory) Riders() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	res := make([]string, 0, len(d.byRider))
	for id := range d.byRider {
		res = append(res, id)
	}
	return res
}

// Len returns the number of riders with at least one live channel.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byRider)
}
