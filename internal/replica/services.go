package replica

import (
	"github.com/msgcluster/replica/internal/datastore"
)

// Status values used across every service reply. Successes use "sucesso"
// for the registry-style services (login/channel/users/channels/history)
// and "OK" for the messaging services (publish/message), matching
// spec.md §4.1's table exactly. Every failure replies "erro".
const (
	StatusSucesso = "sucesso"
	StatusOK      = "OK"
	StatusErro    = "erro"

	TopicServers = "servers"
)

// Login services the login RPC: a user name is globally unique; duplicate
// registration fails without mutating state.
func (c *Core) Login(user string) Reply {
	return c.afterRequest(func() (string, string, map[string]interface{}) {
		if user == "" {
			return StatusErro, "identificador vazio", nil
		}
		rec := datastore.LoginRecord{User: user, Timestamp: c.now(), Clock: c.clock.Value() + 1}
		if !c.store.AppendLogin(rec) {
			return StatusErro, "Usuário já cadastrado", nil
		}
		return StatusSucesso, "", nil
	})
}

// Users services the users RPC: always succeeds, listing every registered
// user name.
func (c *Core) Users() Reply {
	return c.afterRequest(func() (string, string, map[string]interface{}) {
		return StatusSucesso, "", map[string]interface{}{"users": c.store.Users()}
	})
}

// Channel services the channel RPC: creation is idempotent-by-name — a
// second creation of the same name fails. A successful creation is
// published on the system "servers" topic.
func (c *Core) Channel(channel string) Reply {
	var created bool
	reply := c.afterRequest(func() (string, string, map[string]interface{}) {
		if channel == "" {
			return StatusErro, "identificador vazio", nil
		}
		rec := datastore.ChannelRecord{Channel: channel, Timestamp: c.now(), Clock: c.clock.Value() + 1}
		if !c.store.AppendChannel(rec) {
			return StatusErro, "canal já cadastrado", nil
		}
		created = true
		return StatusSucesso, "", nil
	})
	if created {
		c.publisher.Publish(TopicServers, "channel", map[string]interface{}{
			"channel": channel, "timestamp": reply.Timestamp, "clock": reply.Clock,
		})
	}
	return reply
}

// Channels services the channels RPC: always succeeds, listing every
// channel name.
func (c *Core) Channels() Reply {
	return c.afterRequest(func() (string, string, map[string]interface{}) {
		return StatusSucesso, "", map[string]interface{}{"channels": c.store.Channels()}
	})
}

// Publish services the publish RPC: rejected if the channel or user does
// not exist on this replica. A successful publish fans out on a topic
// named after the channel.
func (c *Core) Publish(user, channel, message string) Reply {
	var record datastore.MessageRecord
	var ok bool
	reply := c.afterRequest(func() (string, string, map[string]interface{}) {
		if !c.store.UserExists(user) || !c.store.ChannelExists(channel) {
			return StatusErro, "usuário ou canal desconhecido", nil
		}
		record = datastore.MessageRecord{
			Type:      datastore.KindPublish,
			User:      user,
			Channel:   channel,
			Message:   message,
			Timestamp: c.now(),
			Clock:     c.clock.Value() + 1,
		}
		c.store.AppendMessage(record)
		ok = true
		return StatusOK, "", nil
	})
	if ok {
		c.publisher.Publish(channel, "publish", record)
	}
	return reply
}

// Message services the message (private) RPC: rejected if either user is
// unknown. A successful send fans out on a topic named after dst.
func (c *Core) Message(src, dst, message string) Reply {
	var record datastore.MessageRecord
	var ok bool
	reply := c.afterRequest(func() (string, string, map[string]interface{}) {
		if !c.store.UserExists(src) || !c.store.UserExists(dst) {
			return StatusErro, "usuário desconhecido", nil
		}
		record = datastore.MessageRecord{
			Type:      datastore.KindMessage,
			Src:       src,
			Dst:       dst,
			Message:   message,
			Timestamp: c.now(),
			Clock:     c.clock.Value() + 1,
		}
		c.store.AppendMessage(record)
		ok = true
		return StatusOK, "", nil
	})
	if ok {
		c.publisher.Publish(dst, "message", record)
	}
	return reply
}

// GetHistory services get_history: rejected if the channel is unknown. A
// limit <= 0 returns the empty list; a limit greater than the record
// count returns all records. Ordered by (clock, timestamp) ascending,
// most-recent limit returned.
func (c *Core) GetHistory(channel string, limit int) Reply {
	return c.afterRequest(func() (string, string, map[string]interface{}) {
		if !c.store.ChannelExists(channel) {
			return StatusErro, "canal desconhecido", nil
		}
		return StatusSucesso, "", map[string]interface{}{"messages": c.store.ChannelHistory(channel, limit)}
	})
}

// GetPrivateHistory services get_private_history: rejected if user is
// unknown.
func (c *Core) GetPrivateHistory(user, peer string, limit int) Reply {
	return c.afterRequest(func() (string, string, map[string]interface{}) {
		if !c.store.UserExists(user) {
			return StatusErro, "usuário desconhecido", nil
		}
		return StatusSucesso, "", map[string]interface{}{"messages": c.store.PrivateHistory(user, peer, limit)}
	})
}
