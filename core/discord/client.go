package discord

import (
	"context"
	"fmt"

	"QFMBot/logger"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
)

// NewClient 创建网关客户端并打开连接，成员缓存和语音状态事件交给 membership
func NewClient(ctx context.Context, token string, membership *Membership) (*bot.Client, error) {
	if token == "" {
		return nil, fmt.Errorf("discord token is empty")
	}

	client, err := disgo.New(token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMembers,
				gateway.IntentGuildVoiceStates,
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagGuilds, cache.FlagMembers, cache.FlagChannels, cache.FlagVoiceStates),
		),
		bot.WithEventListenerFunc(membership.OnVoiceStateUpdate),
		bot.WithEventListenerFunc(func(event *events.Ready) {
			logger.Info("[Discord] 网关已就绪", logger.String("user", event.User.Username))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create discord client: %w", err)
	}
	membership.Bind(client)

	if err := client.OpenGateway(ctx); err != nil {
		client.Close(ctx)
		return nil, fmt.Errorf("open gateway: %w", err)
	}
	return client, nil
}
