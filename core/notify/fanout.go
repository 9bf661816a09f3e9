package notify

import (
	"github.com/Jammarkeun/PawfectFinds/core/directory"
	"github.com/Jammarkeun/PawfectFinds/core/logger"
)

// Fanout implements Notifier over the connection directory plus any number
// of room publishers. Send failures are non-fatal and only logged.
type Fanout struct {
	dir   *directory.Directory
	rooms []RoomPublisher
	log   logger.Logger
}

// NewFanout creates a Fanout. rooms may be empty; room emits are then
// dropped silently.
func NewFanout(dir *directory.Directory, log logger.Logger, rooms ...RoomPublisher) *Fanout {
	return &Fanout{dir: dir, rooms: rooms, log: log}
}

// AddRoomPublisher attaches another room transport. Must be called during
// wiring, before events start flowing.
func (f *Fanout) AddRoomPublisher(rp RoomPublisher) {
	f.rooms = append(f.rooms, rp)
}

// EmitToRider sends the event to every channel the rider currently holds and
// returns the number of channels targeted. A rider without channels is
// silently skipped.
func (f *Fanout) EmitToRider(riderID, event string, payload any) int {
	chans := f.dir.ChannelsFor(riderID)
	for _, ch := range chans {
		f.EmitToChannel(ch, event, payload)
	}
	return len(chans)
}

// EmitToRoom broadcasts the event on every configured room transport.
func (f *Fanout) EmitToRoom(room, event string, payload any) {
	for _, rp := range f.rooms {
		if err := rp.PublishRoom(room, event, payload); err != nil {
			f.log.Warnf("room %s unreachable for %s: %v", room, event, err)
		}
	}
}

// EmitToChannel sends the event to a single channel, fire-and-forget.
func (f *Fanout) EmitToChannel(ch directory.Channel, event string, payload any) {
	if err := ch.Send(event, payload); err != nil {
		f.log.Warnf("channel %s unreachable for %s: %v", ch.ID(), event, err)
	}
}
