package broker

import (
	"sync"

	"github.com/pkg/errors"
)

// ChannelType is the closed enum of channel kinds.
type ChannelType string

const (
	ChannelTypeAgent         ChannelType = "agent"
	ChannelTypeProject       ChannelType = "project"
	ChannelTypeWorkflow      ChannelType = "workflow"
	ChannelTypeBroadcast     ChannelType = "broadcast"
	ChannelTypeSystem        ChannelType = "system"
	ChannelTypeNotifications ChannelType = "notifications"
)

// ErrSystemChannelUndeletable guards the invariant that system channels
// cannot be deleted.
var ErrSystemChannelUndeletable = errors.New("system channels cannot be deleted")

// Channel is a named routing endpoint plus the subscriber ids currently
// listening on it and a running message counter.
type Channel struct {
	Name           string
	Type           ChannelType
	SubscriberIDs  []string
	MessageCount   int
}

// channelManager owns Channel metadata (ownership: Broker exclusively owns
// Channels and message history). Seeds a fixed set of default channels and
// lazily creates per-agent, per-project and per-workflow channels on
// first use.
type channelManager struct {
	mu       sync.Mutex
	channels map[string]*Channel
}

func newChannelManager() *channelManager {
	cm := &channelManager{channels: make(map[string]*Channel)}
	cm.channels["system"] = &Channel{Name: "system", Type: ChannelTypeSystem}
	cm.channels["notifications"] = &Channel{Name: "notifications", Type: ChannelTypeNotifications}
	return cm
}

func (cm *channelManager) ensure(name string, typ ChannelType) *Channel {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	c, ok := cm.channels[name]
	if !ok {
		c = &Channel{Name: name, Type: typ}
		cm.channels[name] = c
	}
	return c
}

func (cm *channelManager) delete(name string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	c, ok := cm.channels[name]
	if !ok {
		return nil
	}
	if c.Type == ChannelTypeSystem {
		return errors.Wrapf(ErrSystemChannelUndeletable, "channel %q", name)
	}
	delete(cm.channels, name)
	return nil
}

func (cm *channelManager) addSubscriber(name, subID string, typ ChannelType) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	c, ok := cm.channels[name]
	if !ok {
		c = &Channel{Name: name, Type: typ}
		cm.channels[name] = c
	}
	c.SubscriberIDs = append(c.SubscriberIDs, subID)
}

func (cm *channelManager) removeSubscriber(name, subID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	c, ok := cm.channels[name]
	if !ok {
		return
	}
	for i, id := range c.SubscriberIDs {
		if id == subID {
			c.SubscriberIDs = append(c.SubscriberIDs[:i], c.SubscriberIDs[i+1:]...)
			break
		}
	}
}

func (cm *channelManager) recordMessage(name string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if c, ok := cm.channels[name]; ok {
		c.MessageCount++
	}
}

func (cm *channelManager) snapshot() []Channel {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	out := make([]Channel, 0, len(cm.channels))
	for _, c := range cm.channels {
		out = append(out, *c)
	}
	return out
}

func inferChannelType(name string) ChannelType {
	switch {
	case name == "system":
		return ChannelTypeSystem
	case name == "notifications":
		return ChannelTypeNotifications
	case len(name) > 6 && name[:6] == "agent:":
		return ChannelTypeAgent
	case len(name) > 8 && name[:8] == "project:":
		return ChannelTypeProject
	case len(name) > 9 && name[:9] == "workflow:":
		return ChannelTypeWorkflow
	default:
		return ChannelTypeBroadcast
	}
}
