package discord

import (
	"context"
	"errors"
	"iter"
	"sync"

	"QFMBot/core/inactivity"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
)

var ErrClientNotBound = errors.New("discord client not bound")

var _ inactivity.MembershipSource = (*Membership)(nil)

// Membership 从网关缓存读取语音频道成员，并把语音状态变化转发给订阅者
type Membership struct {
	mu     sync.RWMutex
	client *bot.Client
	subs   map[uint64]func(inactivity.MembershipEvent)
	nextID uint64
	// last 记录每个用户最近所在的频道，用来在离开时通知旧频道
	last map[snowflake.ID]map[snowflake.ID]snowflake.ID
}

func NewMembership() *Membership {
	return &Membership{
		subs: make(map[uint64]func(inactivity.MembershipEvent)),
		last: make(map[snowflake.ID]map[snowflake.ID]snowflake.ID),
	}
}

// Bind 绑定客户端，客户端创建时已经注册了事件回调
func (m *Membership) Bind(client *bot.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.client = client
}

func (m *Membership) Members(_ context.Context, sessionID, channelID snowflake.ID, includeBots bool) ([]snowflake.ID, error) {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	if client == nil {
		return nil, ErrClientNotBound
	}

	isBot := func(userID snowflake.ID) bool {
		member, ok := client.Caches.Member(sessionID, userID)
		return ok && member.User.Bot
	}
	return membersInChannel(client.Caches.VoiceStates(sessionID), client.ID(), channelID, includeBots, isBot), nil
}

func membersInChannel(states iter.Seq[discord.VoiceState], self, channelID snowflake.ID, includeBots bool, isBot func(snowflake.ID) bool) []snowflake.ID {
	var out []snowflake.ID
	for state := range states {
		if state.ChannelID == nil || *state.ChannelID != channelID || state.UserID == self {
			continue
		}
		if !includeBots && isBot(state.UserID) {
			continue
		}
		out = append(out, state.UserID)
	}
	return out
}

func (m *Membership) Subscribe(fn func(inactivity.MembershipEvent)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// OnVoiceStateUpdate 网关语音状态事件回调
func (m *Membership) OnVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	m.handle(event.VoiceState.GuildID, event.VoiceState.UserID, event.VoiceState.ChannelID)
}

func (m *Membership) handle(guildID, userID snowflake.ID, channelID *snowflake.ID) {
	m.mu.Lock()
	users := m.last[guildID]
	if users == nil {
		users = make(map[snowflake.ID]snowflake.ID)
		m.last[guildID] = users
	}

	var channels []snowflake.ID
	if old, ok := users[userID]; ok {
		channels = append(channels, old)
	}
	if channelID != nil {
		users[userID] = *channelID
		if len(channels) == 0 || channels[0] != *channelID {
			channels = append(channels, *channelID)
		}
	} else {
		delete(users, userID)
	}

	subs := make([]func(inactivity.MembershipEvent), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	ev := inactivity.MembershipEvent{SessionID: guildID, Channels: channels}
	for _, fn := range subs {
		fn(ev)
	}
}
